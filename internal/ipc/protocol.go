// Package ipc connects editor plugins and smartimctl to the smartimd
// daemon over a local socket.
//
// Every message is a 16-byte big-endian header followed by a JSON payload:
//
//	magic(4) version(1) flags(1) type(2) request-id(4) length(4)
//
// Requests are answered with the matching response type and the same
// request id. Failures are MsgError messages carrying an ErrorResponse;
// the connection stays open. Subscribed clients additionally receive
// MsgEvent messages.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	smartctx "smartim/internal/context"
	"smartim/internal/engine"
	"smartim/internal/store"
	"smartim/internal/tracker"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x534D494D // "SMIM"
)

// MaxPayload bounds a single message payload.
const MaxPayload = 4 * 1024 * 1024

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest   MessageType = 0x0100
	MsgStatusResponse  MessageType = 0x0101
	MsgMetricsRequest  MessageType = 0x0102
	MsgMetricsResponse MessageType = 0x0103
	MsgHealthRequest   MessageType = 0x0104
	MsgHealthResponse  MessageType = 0x0105

	// Editor events (0x02xx)
	MsgCursorMoved            MessageType = 0x0200
	MsgCursorMovedAck         MessageType = 0x0201
	MsgEditorClosed           MessageType = 0x0202
	MsgEditorClosedAck        MessageType = 0x0203
	MsgHostFocusLost          MessageType = 0x0204
	MsgHostFocusLostResp      MessageType = 0x0205
	MsgToolWindowActivated    MessageType = 0x0206
	MsgToolWindowActivatedAck MessageType = 0x0207

	// Input sources (0x03xx)
	MsgListSources     MessageType = 0x0300
	MsgListSourcesResp MessageType = 0x0301
	MsgSwitch          MessageType = 0x0302
	MsgSwitchResp      MessageType = 0x0303
	MsgHistory         MessageType = 0x0304
	MsgHistoryResp     MessageType = 0x0305

	// Configuration (0x04xx)
	MsgReloadConfig     MessageType = 0x0404
	MsgReloadConfigResp MessageType = 0x0405

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

var messageNames = map[MessageType]string{
	MsgPing:                   "ping",
	MsgPong:                   "pong",
	MsgHandshake:              "handshake",
	MsgHandshakeAck:           "handshake_ack",
	MsgError:                  "error",
	MsgStatusRequest:          "status",
	MsgStatusResponse:         "status_resp",
	MsgMetricsRequest:         "metrics",
	MsgMetricsResponse:        "metrics_resp",
	MsgHealthRequest:          "health",
	MsgHealthResponse:         "health_resp",
	MsgCursorMoved:            "cursor_moved",
	MsgCursorMovedAck:         "cursor_moved_ack",
	MsgEditorClosed:           "editor_closed",
	MsgEditorClosedAck:        "editor_closed_ack",
	MsgHostFocusLost:          "host_focus_lost",
	MsgHostFocusLostResp:      "host_focus_lost_resp",
	MsgToolWindowActivated:    "tool_window_activated",
	MsgToolWindowActivatedAck: "tool_window_activated_ack",
	MsgListSources:            "list_sources",
	MsgListSourcesResp:        "list_sources_resp",
	MsgSwitch:                 "switch",
	MsgSwitchResp:             "switch_resp",
	MsgHistory:                "history",
	MsgHistoryResp:            "history_resp",
	MsgReloadConfig:           "reload_config",
	MsgReloadConfigResp:       "reload_config_resp",
	MsgSubscribe:              "subscribe",
	MsgSubscribeResp:          "subscribe_resp",
	MsgUnsubscribe:            "unsubscribe",
	MsgUnsubscribeResp:        "unsubscribe_resp",
	MsgEvent:                  "event",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// EventType identifies the type of streamed event.
type EventType uint16

const (
	EventSwitch         EventType = 0x0001
	EventConfigChanged  EventType = 0x0002
	EventConfigRejected EventType = 0x0003
	EventDaemonShutdown EventType = 0x0004
)

// AllEvents is what an empty subscription receives.
var AllEvents = []EventType{EventSwitch, EventConfigChanged, EventConfigRejected, EventDaemonShutdown}

var eventNames = map[EventType]string{
	EventSwitch:         "switch",
	EventConfigChanged:  "config_changed",
	EventConfigRejected: "config_rejected",
	EventDaemonShutdown: "daemon_shutdown",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event_0x%04x", uint16(t))
}

// ParseEventType maps a name printed by String back to its type.
func ParseEventType(name string) (EventType, error) {
	for t, n := range eventNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message to w in a single call.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = binary.BigEndian.AppendUint32(buf, m.Header.Magic)
	buf = append(buf, m.Header.Version, m.Header.Flags)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.Header.Type))
	buf = binary.BigEndian.AppendUint32(buf, m.Header.RequestID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client after connecting.
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse acknowledges a handshake.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when a request fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (code %d): %s", e.Message, e.Code, e.Details)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
	ErrConfigRejected   = 7
)

// StatusRequest requests daemon status.
type StatusRequest struct {
	IncludeEditors bool `json:"include_editors,omitempty"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version     string                `json:"version"`
	StartedAt   time.Time             `json:"started_at"`
	Uptime      time.Duration         `json:"uptime"`
	Enabled     bool                  `json:"enabled"`
	ConfigPath  string                `json:"config_path,omitempty"`
	NativeIM    string                `json:"native_im"`
	LatinIM     string                `json:"latin_im"`
	DebounceMs  int64                 `json:"debounce_ms"`
	Backend     string                `json:"backend"`
	Cached      string                `json:"cached,omitempty"`
	Editors     int                   `json:"editors"`
	EditorList  []tracker.EditorState `json:"editor_list,omitempty"`
	Clients     int                   `json:"clients"`
	Counters    map[string]uint64     `json:"counters"`
	HistoryPath string                `json:"history_path,omitempty"`
}

// MetricsResponse carries the Prometheus text exposition of the counters.
type MetricsResponse struct {
	Text string `json:"text"`
}

// CursorMovedRequest carries a caret snapshot resolved by the plugin.
type CursorMovedRequest struct {
	EditorID string                  `json:"editor_id"`
	Snapshot smartctx.StaticSnapshot `json:"snapshot"`
}

// EditorRequest names an editor.
type EditorRequest struct {
	EditorID string `json:"editor_id"`
}

// AckResponse acknowledges fire-and-forget notifications.
type AckResponse struct {
	Accepted bool `json:"accepted"`
}

// ToolWindowRequest reports an activated tool window.
type ToolWindowRequest struct {
	ID string `json:"id"`
}

// OutcomeResponse carries the outcome of a synchronous switch.
type OutcomeResponse struct {
	Outcome engine.Outcome `json:"outcome"`
}

// ListSourcesResponse lists the registry's input sources.
type ListSourcesResponse struct {
	Sources  []string `json:"sources"`
	Cached   string   `json:"cached,omitempty"`
	NativeIM string   `json:"native_im"`
	LatinIM  string   `json:"latin_im"`
}

// SwitchRequest asks for a switch to Target, which is parsed like a
// scenario value: default_native, default_latin, keep_current or an id.
type SwitchRequest struct {
	Target string `json:"target"`
}

// HistoryRequest filters switch history.
type HistoryRequest struct {
	EditorID string    `json:"editor_id,omitempty"`
	Path     string    `json:"path,omitempty"`
	Since    time.Time `json:"since,omitzero"`
	Limit    int       `json:"limit,omitempty"`
}

// HistoryResponse contains recorded switches, newest first.
type HistoryResponse struct {
	Events []store.SwitchEvent `json:"events"`
	Counts []store.PathCount   `json:"counts,omitempty"`
}

// ReloadConfigResponse reports the outcome of a manual reload.
type ReloadConfigResponse struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// SubscribeRequest requests event subscription.
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription.
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an event of type t.
func NewEvent(t EventType, data any) (*Event, error) {
	ev := &Event{Type: t, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// ConfigEvent is the data of config events.
type ConfigEvent struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
