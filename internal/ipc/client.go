package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	smartctx "smartim/internal/context"
	"smartim/internal/engine"
	"smartim/internal/health"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient talks to smartimd.
type IPCClient struct {
	mu            sync.RWMutex
	conn          net.Conn
	clientID      string
	serverVersion string

	connected atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32
	writeMu   sync.Mutex

	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	closeOnce sync.Once
	wg        sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns defaults for a socket at socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "smartimctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// EventHandler is called for every received event.
type EventHandler func(event *Event)

// NewClient creates a client. Connect must be called before requests.
func NewClient(cfg ClientConfig) *IPCClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &IPCClient{
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		config:    cfg,
	}
}

// Connect dials the daemon and performs the handshake.
func (c *IPCClient) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	if err := c.handshake(ctx); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close closes the connection and the event channel.
func (c *IPCClient) Close() error {
	c.close()
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			close(c.eventChan)
		case <-time.After(2 * time.Second):
		}
	})
	return nil
}

func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected.
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the id the server assigned during the handshake.
func (c *IPCClient) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported in the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// SetEventHandler sets the handler for streamed events.
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the channel of streamed events. It is closed by Close.
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

func (c *IPCClient) handshake(ctx context.Context) error {
	var ack HandshakeResponse
	err := c.call(ctx, MsgHandshake, MsgHandshakeAck, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}, &ack)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = ack.ClientID
	c.serverVersion = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// request sends a request and waits for the message answering it.
func (c *IPCClient) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(msgType, reqID, data)); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call performs a request and decodes a response of type want into out.
// MsgError responses are returned as *ErrorResponse.
func (c *IPCClient) call(ctx context.Context, msgType, want MessageType, req, out any) error {
	resp, err := c.request(ctx, msgType, req)
	if err != nil {
		return err
	}
	switch resp.Header.Type {
	case want:
	case MsgError:
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &errResp
	default:
		return fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	return Decode(resp.Payload, out)
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(conn)
}

func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			c.close()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPing:
		c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
		}

		c.eventMu.RLock()
		handler := c.eventHandler
		c.eventMu.RUnlock()
		if handler != nil {
			go handler(&event)
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// High-level API methods

// Ping checks if the daemon is responsive.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.call(ctx, MsgPing, MsgPong, nil, nil)
}

// Status requests the daemon status.
func (c *IPCClient) Status(ctx context.Context, includeEditors bool) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(ctx, MsgStatusRequest, MsgStatusResponse, &StatusRequest{IncludeEditors: includeEditors}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Metrics returns the Prometheus text exposition of the daemon counters.
func (c *IPCClient) Metrics(ctx context.Context) (string, error) {
	var resp MetricsResponse
	if err := c.call(ctx, MsgMetricsRequest, MsgMetricsResponse, nil, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Health runs the daemon component checks.
func (c *IPCClient) Health(ctx context.Context) (*health.Report, error) {
	var report health.Report
	if err := c.call(ctx, MsgHealthRequest, MsgHealthResponse, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CursorMoved reports a caret snapshot. The switch happens asynchronously
// after the debounce delay.
func (c *IPCClient) CursorMoved(ctx context.Context, editorID string, snap smartctx.StaticSnapshot) error {
	return c.call(ctx, MsgCursorMoved, MsgCursorMovedAck, &CursorMovedRequest{EditorID: editorID, Snapshot: snap}, nil)
}

// EditorClosed drops the daemon state of an editor. It reports whether
// the editor was tracked.
func (c *IPCClient) EditorClosed(ctx context.Context, editorID string) (bool, error) {
	var ack AckResponse
	if err := c.call(ctx, MsgEditorClosed, MsgEditorClosedAck, &EditorRequest{EditorID: editorID}, &ack); err != nil {
		return false, err
	}
	return ack.Accepted, nil
}

// HostFocusLost applies the configured leave mode.
func (c *IPCClient) HostFocusLost(ctx context.Context) (*engine.Outcome, error) {
	var resp OutcomeResponse
	if err := c.call(ctx, MsgHostFocusLost, MsgHostFocusLostResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Outcome, nil
}

// ToolWindowActivated reports an activated tool window.
func (c *IPCClient) ToolWindowActivated(ctx context.Context, id string) (*engine.Outcome, error) {
	var resp OutcomeResponse
	if err := c.call(ctx, MsgToolWindowActivated, MsgToolWindowActivatedAck, &ToolWindowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Outcome, nil
}

// ListSources lists the input sources the daemon's registry enumerates.
func (c *IPCClient) ListSources(ctx context.Context) (*ListSourcesResponse, error) {
	var resp ListSourcesResponse
	if err := c.call(ctx, MsgListSources, MsgListSourcesResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Switch switches to target immediately.
func (c *IPCClient) Switch(ctx context.Context, target string) (*engine.Outcome, error) {
	var resp OutcomeResponse
	if err := c.call(ctx, MsgSwitch, MsgSwitchResp, &SwitchRequest{Target: target}, &resp); err != nil {
		return nil, err
	}
	return &resp.Outcome, nil
}

// History returns recorded switches.
func (c *IPCClient) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call(ctx, MsgHistory, MsgHistoryResp, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReloadConfig asks the daemon to re-read its configuration file.
func (c *IPCClient) ReloadConfig(ctx context.Context) (*ReloadConfigResponse, error) {
	var resp ReloadConfigResponse
	if err := c.call(ctx, MsgReloadConfig, MsgReloadConfigResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe subscribes to events. No types means all of them.
func (c *IPCClient) Subscribe(ctx context.Context, events ...EventType) error {
	var resp SubscribeResponse
	if err := c.call(ctx, MsgSubscribe, MsgSubscribeResp, &SubscribeRequest{Events: events}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe stops event delivery.
func (c *IPCClient) Unsubscribe(ctx context.Context) error {
	return c.call(ctx, MsgUnsubscribe, MsgUnsubscribeResp, nil, nil)
}
