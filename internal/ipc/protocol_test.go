package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	payload, err := Encode(&SwitchRequest{Target: "default_native"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewMessage(MsgSwitch, 42, payload).Write(&buf))
	assert.Equal(t, HeaderSize+len(payload), buf.Len())

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSwitch, msg.Header.Type)
	assert.Equal(t, uint32(42), msg.Header.RequestID)
	assert.Equal(t, FlagJSON, msg.Header.Flags)

	var req SwitchRequest
	require.NoError(t, Decode(msg.Payload, &req))
	assert.Equal(t, "default_native", req.Target)
}

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: 1, Flags: FlagJSON, Type: MsgCursorMoved, RequestID: 7, Length: 3}
	require.NoError(t, h.Write(&buf))

	b := buf.Bytes()
	require.Len(t, b, HeaderSize)
	assert.Equal(t, "SMIM", string(b[0:4]))
	assert.Equal(t, uint16(MsgCursorMoved), binary.BigEndian.Uint16(b[6:8]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(b[12:16]))
}

func TestReadHeaderRejects(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		want   string
	}{
		{"bad magic", Header{Magic: 0xdeadbeef, Version: 1}, "invalid magic"},
		{"future version", Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1}, "unsupported protocol version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.header.Write(&buf))
			_, err := ReadHeader(&buf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadMessageLimits(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: 1, Type: MsgPing, Length: MaxPayload + 1}
	require.NoError(t, h.Write(&buf))
	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")

	buf.Reset()
	h.Length = 10
	require.NoError(t, h.Write(&buf))
	buf.WriteString("short")
	_, err = ReadMessage(&buf)
	assert.Error(t, err, "truncated payload")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "cursor_moved", MsgCursorMoved.String())
	assert.Equal(t, "reload_config", MsgReloadConfig.String())
	assert.Equal(t, "0x0999", MessageType(0x0999).String())
}

func TestErrorResponse(t *testing.T) {
	msg := NewErrorMessage(9, ErrNotFound, "no such editor")
	assert.Equal(t, MsgError, msg.Header.Type)

	var resp ErrorResponse
	require.NoError(t, Decode(msg.Payload, &resp))
	assert.Equal(t, ErrNotFound, resp.Code)

	var err error = &resp
	var target *ErrorResponse
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "no such editor (code 3)", err.Error())

	resp.Details = "ed-1"
	assert.True(t, strings.HasSuffix(resp.Error(), ": ed-1"))
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventConfigChanged, &ConfigEvent{Path: "/tmp/config.toml", Version: 3, Reason: "watch"})
	require.NoError(t, err)
	assert.Equal(t, EventConfigChanged, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	var data ConfigEvent
	require.NoError(t, Decode(ev.Data, &data))
	assert.Equal(t, 3, data.Version)

	ev, err = NewEvent(EventDaemonShutdown, nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Data)
}

// =============================================================================
// Schema
// =============================================================================

func TestValidateCursorMoved(t *testing.T) {
	valid := `{"editor_id":"ed-1","snapshot":{"offset":12,"node_at_offset":true,"in_comment":true,"comment_token":"EOL_COMMENT","language":"java"}}`
	req, err := ValidateCursorMoved([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, "ed-1", req.EditorID)
	assert.Equal(t, 12, req.Snapshot.Offset)
	assert.True(t, req.Snapshot.InComment)
	assert.Equal(t, "java", req.Snapshot.Language())

	invalid := []struct {
		name    string
		payload string
	}{
		{"not json", `{"editor_id":`},
		{"missing editor", `{"snapshot":{"offset":1,"node_at_offset":true}}`},
		{"empty editor", `{"editor_id":"","snapshot":{"offset":1,"node_at_offset":true}}`},
		{"negative offset", `{"editor_id":"a","snapshot":{"offset":-1,"node_at_offset":true}}`},
		{"fractional offset", `{"editor_id":"a","snapshot":{"offset":1.5,"node_at_offset":true}}`},
		{"unknown field", `{"editor_id":"a","snapshot":{"offset":1,"node_at_offset":true,"psi":{}}}`},
		{"wrong type", `{"editor_id":"a","snapshot":{"offset":1,"node_at_offset":"yes"}}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateCursorMoved([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestEventTypeNames(t *testing.T) {
	for _, et := range AllEvents {
		parsed, err := ParseEventType(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, parsed)
	}
	_, err := ParseEventType("keystroke")
	assert.Error(t, err)
	assert.Equal(t, "event_0x0009", EventType(9).String())
}
