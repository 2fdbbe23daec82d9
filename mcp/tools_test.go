package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansel/livewatch/client"
	"github.com/tansel/livewatch/proto"
)

type fakeCore struct {
	objects  map[string]any
	schemas  map[string]*proto.Schema
	history  map[string][]client.HistoryEntry
	subs     map[string]bool
	commands []string
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		objects: make(map[string]any),
		schemas: make(map[string]*proto.Schema),
		history: make(map[string][]client.HistoryEntry),
		subs:    make(map[string]bool),
	}
}

func (f *fakeCore) Objects() []string {
	paths := make([]string, 0, len(f.objects))
	for p := range f.objects {
		paths = append(paths, p)
	}
	return paths
}

func (f *fakeCore) Object(path string) (any, bool) {
	v, ok := f.objects[path]
	return v, ok
}

func (f *fakeCore) Schema(path string) (*proto.Schema, bool) {
	s, ok := f.schemas[path]
	return s, ok
}

func (f *fakeCore) History(path, field string) []client.HistoryEntry {
	return f.history[path+"."+field]
}

func (f *fakeCore) HistoryFields(path string) []string { return nil }
func (f *fakeCore) IsSubscribed(path string) bool      { return f.subs[path] }
func (f *fakeCore) Subscriptions() []string            { return nil }
func (f *fakeCore) Connected() bool                    { return true }

func (f *fakeCore) DisplayKind(path string) string {
	if f.subs[path] {
		return client.DisplayObject
	}
	return client.DisplayNone
}

func (f *fakeCore) Discover(path string) error {
	f.commands = append(f.commands, "discover "+path)
	return nil
}

func (f *fakeCore) Get(path string) error {
	f.commands = append(f.commands, "get "+path)
	return nil
}

func (f *fakeCore) Subscribe(path string) error {
	f.commands = append(f.commands, "subscribe "+path)
	return nil
}

func (f *fakeCore) Unsubscribe(path string) error {
	f.commands = append(f.commands, "unsubscribe "+path)
	return nil
}

func (f *fakeCore) Set(path string, changes map[string]any) error {
	for field := range changes {
		f.commands = append(f.commands, "set "+path+"."+field)
	}
	return nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestListObjects(t *testing.T) {
	core := newFakeCore()
	core.objects["laser"] = map[string]any{"power": 42.0}
	core.subs["laser"] = true
	tools := NewTools(core, NewMCPServer())

	result, err := tools.handleListObjects(context.Background(), callRequest("list_objects", nil))
	require.NoError(t, err)
	text := textContent(t, result)
	assert.Contains(t, text, `"path":"laser"`)
	assert.Contains(t, text, `"displayKind":"object"`)
	assert.Contains(t, text, `"count":1`)
}

func TestGetObjectUnknown(t *testing.T) {
	tools := NewTools(newFakeCore(), NewMCPServer())

	result, err := tools.handleGetObject(context.Background(), callRequest("get_object", map[string]any{"path": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetHistory(t *testing.T) {
	core := newFakeCore()
	core.history["laser.power"] = []client.HistoryEntry{
		{At: time.Unix(100, 0), Value: 1.0},
	}
	tools := NewTools(core, NewMCPServer())

	result, err := tools.handleGetHistory(context.Background(), callRequest("get_history", map[string]any{
		"path":  "laser",
		"field": "power",
	}))
	require.NoError(t, err)
	text := textContent(t, result)
	assert.Contains(t, text, `"count":1`)
	assert.Contains(t, text, `"value":1`)
}

func TestSubscribeUnsubscribeTools(t *testing.T) {
	core := newFakeCore()
	tools := NewTools(core, NewMCPServer())

	_, err := tools.handleSubscribe(context.Background(), callRequest("subscribe_object", map[string]any{"path": "laser"}))
	require.NoError(t, err)
	_, err = tools.handleUnsubscribe(context.Background(), callRequest("unsubscribe_object", map[string]any{"path": "laser"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"subscribe laser", "unsubscribe laser"}, core.commands)
}

func TestRefreshSendsDiscoverThenGet(t *testing.T) {
	core := newFakeCore()
	tools := NewTools(core, NewMCPServer())

	_, err := tools.handleRefresh(context.Background(), callRequest("refresh_object", map[string]any{"path": "plasma"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"discover plasma", "get plasma"}, core.commands)
}

func TestSetFieldTool(t *testing.T) {
	core := newFakeCore()
	tools := NewTools(core, NewMCPServer())

	result, err := tools.handleSetField(context.Background(), callRequest("set_field", map[string]any{
		"path":  "laser",
		"field": "power",
		"value": map[string]any{"value": 42.0},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"set laser.power"}, core.commands)
}

func TestSetFieldToolMissingValue(t *testing.T) {
	tools := NewTools(newFakeCore(), NewMCPServer())

	result, err := tools.handleSetField(context.Background(), callRequest("set_field", map[string]any{
		"path":  "laser",
		"field": "power",
	}))
	require.Error(t, err)
	assert.True(t, result.IsError)
}
