package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansel/livewatch/proto"
)

func parseAll(t *testing.T, lines []string) []proto.Message {
	t.Helper()
	msgs := make([]proto.Message, 0, len(lines))
	for _, line := range lines {
		msg, err := proto.ParseLine(line)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestDiscoverKnownObject(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()

	msgs := parseAll(t, d.Handle(`{"id":"discover-laser","type":"discover","path":"laser"}`))
	require.Len(t, msgs, 1)
	resp := msgs[0]
	assert.Equal(t, proto.TypeDiscoverResponse, resp.Type)
	assert.Equal(t, "discover-laser", resp.ID)
	assert.True(t, resp.Found)
	require.NotNil(t, resp.Schema)
	assert.Equal(t, "laser", resp.Schema.Name)
	assert.True(t, resp.Schema.Subscribable)
	assert.Len(t, resp.Schema.Fields, 3)
}

func TestDiscoverUnknownObject(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()

	msgs := parseAll(t, d.Handle(`{"id":"discover-ghost","type":"discover","path":"ghost"}`))
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Found)
	assert.Nil(t, msgs[0].Schema)
}

func TestDiscoverHiddenObject(t *testing.T) {
	d := NewDevice()
	d.Register(ObjectSpec{
		Name:   "internal",
		Fields: []proto.Field{{Name: "counter", Type: "number"}},
	})

	msgs := parseAll(t, d.Handle(`{"type":"discover","path":"internal"}`))
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Found)
}

func TestGetLazilyCreatesObject(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()

	msgs := parseAll(t, d.Handle(`{"id":"get-laser","type":"get","path":"laser"}`))
	require.Len(t, msgs, 1)
	state := msgs[0]
	assert.Equal(t, proto.TypeState, state.Type)
	assert.Equal(t, "laser", state.Path)

	value, err := state.DecodeValue()
	require.NoError(t, err)
	obj, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, obj["enabled"])
	assert.Equal(t, 0.0, obj["power"])
	assert.Equal(t, "", obj["mode"])
}

func TestGetUnknownObject(t *testing.T) {
	d := NewDevice()
	msgs := parseAll(t, d.Handle(`{"type":"get","path":"ghost"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "not_found", msgs[0].Error)
	assert.False(t, msgs[0].HasValue())
}

func TestSubscribeAcksThenPushesState(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()

	msgs := parseAll(t, d.Handle(`{"id":"sub-plasma","type":"subscribe","path":"plasma"}`))
	require.Len(t, msgs, 2)
	assert.Equal(t, proto.TypeSubscribeResponse, msgs[0].Type)
	assert.Empty(t, msgs[0].Error)
	assert.Equal(t, proto.TypeState, msgs[1].Type)
	assert.Equal(t, "plasma", msgs[1].Path)
	assert.True(t, msgs[1].HasValue())
}

func TestSubscribeRejections(t *testing.T) {
	d := NewDevice()
	d.Register(ObjectSpec{
		Name:         "readout",
		Fields:       []proto.Field{{Name: "value", Type: "number"}},
		Discoverable: true,
	})

	msgs := parseAll(t, d.Handle(`{"type":"subscribe","path":"ghost"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "not_found", msgs[0].Error)

	msgs = parseAll(t, d.Handle(`{"type":"subscribe","path":"readout"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "not_subscribable", msgs[0].Error)
}

func TestUnsubscribeStopsTickTraffic(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()
	d.Handle(`{"type":"subscribe","path":"laser"}`)

	now := time.Now()
	require.NotEmpty(t, d.Tick(now))

	msgs := parseAll(t, d.Handle(`{"id":"unsub-laser","type":"unsubscribe","path":"laser"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, proto.TypeUnsubscribeResponse, msgs[0].Type)

	assert.Empty(t, d.Tick(now.Add(time.Second)))
}

func TestSetEmitsUpdateForSubscribers(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()
	d.Handle(`{"type":"subscribe","path":"laser"}`)

	msgs := parseAll(t, d.Handle(`{"id":"set-1","type":"set","path":"laser","changes":{"power":42}}`))
	require.Len(t, msgs, 2)

	update := msgs[0]
	assert.Equal(t, proto.TypeUpdate, update.Type)
	changes, err := update.DecodeChanges()
	require.NoError(t, err)
	assert.Equal(t, 42.0, changes["power"])

	ack := msgs[1]
	assert.Equal(t, "set.response", ack.Type)
	assert.Empty(t, ack.Error)
}

func TestSetWithoutSubscriberOnlyAcks(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()

	msgs := parseAll(t, d.Handle(`{"type":"set","path":"laser","changes":{"power":7}}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "set.response", msgs[0].Type)

	// value still applied
	state := parseAll(t, d.Handle(`{"type":"get","path":"laser"}`))[0]
	value, err := state.DecodeValue()
	require.NoError(t, err)
	assert.Equal(t, 7.0, value.(map[string]any)["power"])
}

func TestSetReadOnlyRejected(t *testing.T) {
	d := NewDevice()
	d.Register(ObjectSpec{
		Name:         "sensor",
		Fields:       []proto.Field{{Name: "value", Type: "number"}},
		ReadOnly:     true,
		Discoverable: true,
	})

	msgs := parseAll(t, d.Handle(`{"type":"set","path":"sensor","changes":{"value":1}}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "read_only", msgs[0].Error)
}

func TestDeleteMarksFieldAndPushesFullState(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()
	d.Handle(`{"type":"subscribe","path":"laser"}`)

	msgs := parseAll(t, d.Handle(`{"type":"delete","path":"laser","field":"mode"}`))
	require.Len(t, msgs, 2)
	assert.Equal(t, proto.TypeUpdate, msgs[0].Type)
	assert.Equal(t, proto.TypeState, msgs[1].Type)

	value, err := msgs[1].DecodeValue()
	require.NoError(t, err)
	assert.Equal(t, "deleted", value.(map[string]any)["mode"])
}

func TestTickRateLimitsPushes(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()
	d.Handle(`{"type":"subscribe","path":"laser"}`)

	now := time.Now()
	assert.NotEmpty(t, d.Tick(now))
	assert.Empty(t, d.Tick(now.Add(100*time.Millisecond)))
	assert.NotEmpty(t, d.Tick(now.Add(600*time.Millisecond)))
}

func TestHandleIgnoresGarbage(t *testing.T) {
	d := NewDevice()
	d.RegisterBuiltins()
	assert.Empty(t, d.Handle("not json"))
	assert.Empty(t, d.Handle(`{"path":"laser"}`))
	assert.Empty(t, d.Handle(`{"type":"state","path":"laser"}`))
}
