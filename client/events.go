package client

import "github.com/tansel/livewatch/proto"

// EventKind tags the core events consumed by view collaborators.
type EventKind string

const (
	EventSchemaKnown   EventKind = "schema-known"
	EventTypeKnown     EventKind = "type-known"
	EventStateReplaced EventKind = "state-replaced"
	EventStateMerged   EventKind = "state-merged"
	EventSubscribed    EventKind = "subscription-confirmed"
	EventUnsubscribed  EventKind = "unsubscription-confirmed"
	EventUnsolicited   EventKind = "unsolicited-rejected"
	EventSendFailed    EventKind = "send-failed"
	EventDisconnected  EventKind = "disconnected"
)

// Display kinds carried by type-known events. An empty kind means the view
// should suppress the type column (unsubscribed paths keep their cached
// value but show no type).
const (
	DisplayObject       = "object"
	DisplayState        = "state"
	DisplayUnsubscribed = "unsubscribed"
	DisplayNone         = ""
)

// Event is one core notification. Which fields are set depends on Kind.
type Event struct {
	Kind          EventKind     `json:"kind"`
	Path          string        `json:"path,omitempty"`
	DisplayKind   string        `json:"displayKind,omitempty"`
	Schema        *proto.Schema `json:"schema,omitempty"`
	Value         any           `json:"value,omitempty"`
	ChangedFields []string      `json:"changedFields,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

// EventFunc receives core events. Handlers run on the processing goroutine
// (or the sending goroutine for send-failed) and must not block.
type EventFunc func(Event)
