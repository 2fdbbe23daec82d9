// Package mcp exposes the engine to MCP clients over stdio: read tools for
// cached state and history, command tools for device operations.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tansel/livewatch/client"
	"github.com/tansel/livewatch/proto"
)

// Core is the slice of the engine the MCP tools consume.
type Core interface {
	Objects() []string
	Object(path string) (any, bool)
	Schema(path string) (*proto.Schema, bool)
	History(path, field string) []client.HistoryEntry
	HistoryFields(path string) []string
	IsSubscribed(path string) bool
	Subscriptions() []string
	DisplayKind(path string) string
	Connected() bool

	Discover(path string) error
	Get(path string) error
	Subscribe(path string) error
	Unsubscribe(path string) error
	Set(path string, changes map[string]any) error
}

// Tools wires the engine into an MCPServer.
type Tools struct {
	core   Core
	server *MCPServer
}

func NewTools(core Core, srv *MCPServer) *Tools {
	return &Tools{core: core, server: srv}
}

// Register installs every tool on the server.
func (t *Tools) Register() {
	t.server.Server.AddTool(mcp.NewTool("list_objects",
		mcp.WithDescription("List device objects known to the client cache, with display kind and subscription state"),
	), t.handleListObjects)

	t.server.Server.AddTool(mcp.NewTool("get_object",
		mcp.WithDescription("Get the cached value and schema of one device object"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
	), t.handleGetObject)

	t.server.Server.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("Get the recorded value history of one object field"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Field name"),
		),
	), t.handleGetHistory)

	t.server.Server.AddTool(mcp.NewTool("subscribe_object",
		mcp.WithDescription("Subscribe to change notifications for a device object"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
	), t.handleSubscribe)

	t.server.Server.AddTool(mcp.NewTool("unsubscribe_object",
		mcp.WithDescription("Stop change notifications for a device object"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
	), t.handleUnsubscribe)

	t.server.Server.AddTool(mcp.NewTool("refresh_object",
		mcp.WithDescription("Request a fresh schema and state snapshot for a device object"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
	), t.handleRefresh)

	t.server.Server.AddTool(mcp.NewTool("set_field",
		mcp.WithDescription("Write one field of a device object. The new value arrives back as an update"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Object path"),
		),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Field name"),
		),
		mcp.WithObject("value",
			mcp.Description("New value wrapped as {\"value\": ...}"),
		),
	), t.handleSetField)
}

func (t *Tools) handleListObjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := t.core.Objects()
	objects := make([]map[string]any, 0, len(paths))
	for _, path := range paths {
		entry := map[string]any{
			"path":        path,
			"displayKind": t.core.DisplayKind(path),
			"subscribed":  t.core.IsSubscribed(path),
		}
		if value, ok := t.core.Object(path); ok {
			entry["value"] = value
		}
		objects = append(objects, entry)
	}

	result := map[string]any{
		"connected": t.core.Connected(),
		"objects":   objects,
		"count":     len(objects),
	}
	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (t *Tools) handleGetObject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}

	result := map[string]any{
		"path":        path,
		"displayKind": t.core.DisplayKind(path),
		"subscribed":  t.core.IsSubscribed(path),
	}
	value, hasValue := t.core.Object(path)
	if hasValue {
		result["value"] = value
	}
	if schema, ok := t.core.Schema(path); ok {
		result["schema"] = schema
	} else if !hasValue {
		return mcp.NewToolResultError(fmt.Sprintf("Object %s is not in the cache", path)), nil
	}
	result["historyFields"] = t.core.HistoryFields(path)

	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (t *Tools) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}
	field, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError("field is required and must be a string"), err
	}

	history := t.core.History(path, field)
	result := map[string]any{
		"path":    path,
		"field":   field,
		"history": history,
		"count":   len(history),
	}
	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (t *Tools) handleSubscribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}
	if err := t.core.Subscribe(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Subscribe failed: %v", err)), err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Subscribed to %s", path)), nil
}

func (t *Tools) handleUnsubscribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}
	if err := t.core.Unsubscribe(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Unsubscribe failed: %v", err)), err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Unsubscribed from %s", path)), nil
}

func (t *Tools) handleRefresh(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}
	if err := t.core.Discover(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Discover failed: %v", err)), err
	}
	if err := t.core.Get(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Get failed: %v", err)), err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Refresh requested for %s; results arrive asynchronously", path)), nil
}

func (t *Tools) handleSetField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), err
	}
	field, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError("field is required and must be a string"), err
	}

	args := request.GetRawArguments()
	argMap, ok := args.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("value is required"), fmt.Errorf("value not provided")
	}
	wrapper, ok := argMap["value"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("value must be an object of the form {\"value\": ...}"), fmt.Errorf("value not provided")
	}
	value, ok := wrapper["value"]
	if !ok {
		return mcp.NewToolResultError("value must be an object of the form {\"value\": ...}"), fmt.Errorf("value not provided")
	}

	if err := t.core.Set(path, map[string]any{field: value}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Set failed: %v", err)), err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Set %s.%s; the applied value arrives back as an update", path, field)), nil
}
