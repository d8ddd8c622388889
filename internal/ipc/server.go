package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"smartim/internal/config"
)

// Handler processes IPC messages.
type Handler interface {
	// HandleMessage processes a message and returns a response. A nil
	// response sends nothing back.
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server accepts plugin and CLI connections on a unix socket.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	config      ServerConfig
	handler     Handler
	clients     map[string]*Client
	subscribers map[string]*subscription
	startedAt   time.Time
	logger      *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
	nextClientID  atomic.Uint64

	eventChan chan *Event
}

// Client is a connected peer.
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Version      string
	Name         string
	PeerUID      int
	PeerPID      int
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

// Label returns the client's name, or its id before the handshake.
func (c *Client) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

type subscription struct {
	clientID string
	events   map[EventType]bool
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	Permissions    os.FileMode
	MaxConnections int

	// IdleTimeout closes connections that send nothing for this long.
	// Subscribed connections are pinged instead.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// RequireSameUser rejects peers running as another user where the
	// platform reports peer credentials.
	RequireSameUser bool

	Logger *slog.Logger
}

// DefaultServerConfig returns defaults for a socket at socketPath.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:      socketPath,
		Version:         "dev",
		Permissions:     0600,
		MaxConnections:  16,
		IdleTimeout:     5 * time.Minute,
		WriteTimeout:    10 * time.Second,
		RequireSameUser: true,
	}
}

// ServerConfigFrom converts the [ipc] section of the daemon configuration.
func ServerConfigFrom(c config.IPCConfig, version string) (ServerConfig, error) {
	cfg := DefaultServerConfig(c.SocketPath)
	cfg.Version = version
	if c.Permissions != "" {
		mode, err := strconv.ParseUint(c.Permissions, 8, 32)
		if err != nil {
			return cfg, fmt.Errorf("parse socket permissions %q: %w", c.Permissions, err)
		}
		cfg.Permissions = os.FileMode(mode)
	}
	if c.MaxConnections > 0 {
		cfg.MaxConnections = c.MaxConnections
	}
	if c.TimeoutSec > 0 {
		cfg.IdleTimeout = time.Duration(c.TimeoutSec) * time.Second
	}
	return cfg, nil
}

// NewServer creates a server. Start must be called to accept connections.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		config:      cfg,
		handler:     handler,
		clients:     make(map[string]*Client),
		subscribers: make(map[string]*subscription),
		logger:      logger.With("component", "ipc"),
		ctx:         ctx,
		cancel:      cancel,
		eventChan:   make(chan *Event, 100),
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	path := s.config.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(path) {
		return fmt.Errorf("another daemon is listening on %s", path)
	}
	if err := CleanupSocket(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if s.config.Permissions != 0 {
		if err := SetSocketPermissions(path, s.config.Permissions); err != nil {
			listener.Close()
			return fmt.Errorf("set socket permissions: %w", err)
		}
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.logger.Info("listening", "socket", path)
	return nil
}

// Stop notifies subscribers, closes every connection and removes the
// socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if ev, err := NewEvent(EventDaemonShutdown, nil); err == nil {
		s.mu.RLock()
		for clientID, sub := range s.subscribers {
			if client, ok := s.clients[clientID]; ok && sub.events[ev.Type] {
				s.sendEvent(client, ev)
			}
		}
		s.mu.RUnlock()
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for connections to close")
	}

	os.Remove(s.config.SocketPath)
	s.logger.Info("stopped")
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}

// StartedAt returns when Start succeeded.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for subscribed clients. Events are dropped
// when the queue is full or the server is stopped.
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	case <-s.ctx.Done():
	default:
		s.logger.Debug("event queue full, event dropped", "type", event.Type)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if s.config.MaxConnections > 0 && count >= s.config.MaxConnections {
			s.logger.Warn("connection limit reached, rejecting client", "limit", s.config.MaxConnections)
			conn.Close()
			continue
		}

		client := &Client{
			ID:           fmt.Sprintf("client-%d", s.nextClientID.Add(1)),
			conn:         conn,
			PeerUID:      -1,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}
		if !s.checkPeer(client) {
			conn.Close()
			continue
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) checkPeer(client *Client) bool {
	cred, err := GetPeerCredentials(client.conn)
	if err != nil {
		if errors.Is(err, ErrPeerCredentialsUnsupported) {
			return true
		}
		s.logger.Warn("peer credentials unavailable, rejecting client", "error", err)
		return false
	}
	client.PeerUID = cred.UID
	client.PeerPID = cred.PID
	if s.config.RequireSameUser && cred.UID != os.Getuid() {
		s.logger.Warn("rejecting client of another user", "uid", cred.UID, "pid", cred.PID)
		return false
	}
	return true
}

func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Debug("client disconnected", "client", client.Label())
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.config.IdleTimeout > 0 {
			client.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && s.isSubscribed(client.ID) {
				s.sendPing(client)
				continue
			}
			s.logger.Debug("closing connection", "client", client.Label(), "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			s.logger.Error("request failed", "type", msg.Header.Type, "client", client.Label(), "error", err)
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) isSubscribed(clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribers[clientID]
	return ok
}

func (s *Server) processMessage(client *Client, msg *Message) (resp *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handleHandshake(client, msg)
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, client, msg)
}

func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.mu.Unlock()

	s.logger.Info("client connected", "client", req.ClientName, "version", req.ClientVersion, "id", client.ID)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.config.Version,
		ProtocolVersion: ProtocolVersion,
		ClientID:        client.ID,
	})
}

func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
		}
	}

	events := req.Events
	if len(events) == 0 {
		events = AllEvents
	}
	sub := &subscription{clientID: client.ID, events: make(map[EventType]bool)}
	for _, et := range events {
		sub.events[et] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
	})
}

func (s *Server) handleUnsubscribe(client *Client, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()
	return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.eventChan:
			s.mu.RLock()
			for clientID, sub := range s.subscribers {
				if !sub.events[event.Type] {
					continue
				}
				if client, ok := s.clients[clientID]; ok {
					go s.sendEvent(client, event)
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) sendEvent(client *Client, event *Event) {
	payload, err := Encode(event)
	if err != nil {
		return
	}
	if err := s.sendMessage(client, NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)); err != nil {
		s.logger.Debug("event not delivered", "client", client.Label(), "error", err)
	}
}

func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return msg.Write(client.conn)
}

func (s *Server) sendPing(client *Client) {
	s.sendMessage(client, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
}
