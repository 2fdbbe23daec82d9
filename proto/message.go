package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message kinds understood by the engine. Anything else parses fine and is
// ignored downstream.
const (
	TypeDiscover            = "discover"
	TypeDiscoverResponse    = "discover.response"
	TypeGet                 = "get"
	TypeSubscribe           = "subscribe"
	TypeSubscribeResponse   = "subscribe.response"
	TypeUnsubscribe         = "unsubscribe"
	TypeUnsubscribeResponse = "unsubscribe.response"
	TypeState               = "state"
	TypeUpdate              = "update"
	TypeSet                 = "set"
	TypeDelete              = "delete"
)

type Message struct {
	ID   string `json:"id,omitempty"`   // free-form correlation token
	Type string `json:"type"`           // message kind
	Path string `json:"path,omitempty"` // dot-addressed object or field

	// discover.response
	Found  bool    `json:"found,omitempty"`
	Schema *Schema `json:"schema,omitempty"`

	// state / update / set payloads. Raw JSON so a wrong-shaped "changes"
	// is detectable per message instead of failing the whole line.
	Value   json.RawMessage `json:"value,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`

	// delete
	Field string `json:"field,omitempty"`

	// get slices for array-valued fields
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`

	// device-reported errors (not_found, read_only, ...)
	Error string `json:"error,omitempty"`
}

// ParseLine decodes one wire line into a Message. The line must be a single
// JSON object carrying at least a non-empty "type".
func ParseLine(line string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return Message{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if strings.TrimSpace(msg.Type) == "" {
		return Message{}, fmt.Errorf("message has no type")
	}
	return msg, nil
}

// Marshal renders the message as a single newline-terminated wire line.
func (m Message) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// HasValue reports whether a full-snapshot value is present. A JSON null
// counts as present: absence and null are distinct on this protocol.
func (m Message) HasValue() bool {
	return len(m.Value) > 0
}

// DecodeValue unmarshals the snapshot value into a generic value
// (map[string]any for objects, scalars otherwise).
func (m Message) DecodeValue() (any, error) {
	if !m.HasValue() {
		return nil, fmt.Errorf("message has no value")
	}
	var v any
	if err := json.Unmarshal(m.Value, &v); err != nil {
		return nil, fmt.Errorf("invalid value payload: %w", err)
	}
	return v, nil
}

// HasChanges reports whether a delta payload is present.
func (m Message) HasChanges() bool {
	return len(m.Changes) > 0
}

// DecodeChanges unmarshals the delta payload, requiring it to be a JSON
// object mapping field names to values.
func (m Message) DecodeChanges() (map[string]any, error) {
	if !m.HasChanges() {
		return nil, fmt.Errorf("message has no changes")
	}
	var changes map[string]any
	if err := json.Unmarshal(m.Changes, &changes); err != nil {
		return nil, fmt.Errorf("changes is not a field mapping: %w", err)
	}
	return changes, nil
}

// EncodeChanges sets the delta payload from a field mapping. Used by the
// outbound "set" path.
func (m *Message) EncodeChanges(changes map[string]any) error {
	data, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	m.Changes = data
	return nil
}

// SplitPath splits a dot-addressed path into the top-level object name and
// the advisory sub-address segments.
func SplitPath(path string) (string, []string) {
	if path == "" {
		return "", nil
	}
	parts := strings.Split(path, ".")
	return parts[0], parts[1:]
}
