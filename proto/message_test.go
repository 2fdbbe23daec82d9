package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineDiscoverResponse(t *testing.T) {
	line := `{"type":"discover.response","found":true,"schema":{"name":"laser","fields":[{"name":"power","type":"number"}]}}`
	msg, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, TypeDiscoverResponse, msg.Type)
	assert.True(t, msg.Found)
	require.NotNil(t, msg.Schema)
	assert.Equal(t, "laser", msg.Schema.Name)
	require.Len(t, msg.Schema.Fields, 1)
	assert.Equal(t, Field{Name: "power", Type: "number"}, msg.Schema.Fields[0])
}

func TestParseLineRejectsGarbage(t *testing.T) {
	_, err := ParseLine("not json at all")
	assert.Error(t, err)

	// valid JSON but not an object shape we can use
	_, err = ParseLine(`[1,2,3]`)
	assert.Error(t, err)

	// object with no type
	_, err = ParseLine(`{"path":"laser"}`)
	assert.Error(t, err)
}

func TestParseLineUnknownTypeIsAccepted(t *testing.T) {
	msg, err := ParseLine(`{"type":"telemetry.v2","path":"laser"}`)
	require.NoError(t, err)
	assert.Equal(t, "telemetry.v2", msg.Type)
}

func TestValuePresenceIsDistinctFromNull(t *testing.T) {
	msg, err := ParseLine(`{"type":"state","path":"laser","value":null}`)
	require.NoError(t, err)
	assert.True(t, msg.HasValue())

	v, err := msg.DecodeValue()
	require.NoError(t, err)
	assert.Nil(t, v)

	msg, err = ParseLine(`{"type":"state","path":"laser"}`)
	require.NoError(t, err)
	assert.False(t, msg.HasValue())
}

func TestDecodeChangesRequiresMapping(t *testing.T) {
	msg, err := ParseLine(`{"type":"update","path":"laser","changes":{"power":7}}`)
	require.NoError(t, err)
	changes, err := msg.DecodeChanges()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"power": float64(7)}, changes)

	// recognized kind, wrong payload shape: the line still parses, the
	// payload decode is what fails
	msg, err = ParseLine(`{"type":"update","path":"laser","changes":5}`)
	require.NoError(t, err)
	_, err = msg.DecodeChanges()
	assert.Error(t, err)
}

func TestMarshalSetCommand(t *testing.T) {
	msg := Message{ID: "set-laser-power", Type: TypeSet, Path: "laser"}
	require.NoError(t, msg.EncodeChanges(map[string]any{"power": 5}))

	data, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	round, err := ParseLine(string(data[:len(data)-1]))
	require.NoError(t, err)
	assert.Equal(t, "set-laser-power", round.ID)
	changes, err := round.DecodeChanges()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"power": float64(5)}, changes)
}

func TestSplitPath(t *testing.T) {
	obj, rest := SplitPath("laser.power")
	assert.Equal(t, "laser", obj)
	assert.Equal(t, []string{"power"}, rest)

	obj, rest = SplitPath("laser")
	assert.Equal(t, "laser", obj)
	assert.Empty(t, rest)

	obj, rest = SplitPath("")
	assert.Equal(t, "", obj)
	assert.Nil(t, rest)
}

func TestSchemaValidate(t *testing.T) {
	s := Schema{Name: "laser", Fields: []Field{{Name: "power", Type: "number"}}}
	assert.NoError(t, s.Validate())

	s = Schema{Fields: []Field{{Name: "power", Type: "number"}}}
	assert.Error(t, s.Validate())

	s = Schema{Name: "laser", Fields: []Field{{Name: "power", Type: "float64"}}}
	assert.Error(t, s.Validate())
}
