package ipc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smartim/internal/config"
	"smartim/internal/engine"
	"smartim/internal/health"
	"smartim/internal/metrics"
	"smartim/internal/scenario"
	"smartim/internal/store"
	"smartim/internal/tracker"
)

// HistoryReader is the read side of the switch history.
type HistoryReader interface {
	RecentSwitches(ctx context.Context, q store.Query) ([]store.SwitchEvent, error)
	CountByPath(ctx context.Context, since time.Time) ([]store.PathCount, error)
}

// ConfigReloader re-reads the configuration file on request.
type ConfigReloader interface {
	Path() string
	Reload() (*config.Config, error)
}

// DaemonHandlerConfig configures the daemon handler.
type DaemonHandlerConfig struct {
	Version string
	Backend string

	Engine  *engine.Engine
	Tracker *tracker.Tracker
	Metrics *metrics.SwitchMetrics

	// History is nil when storage is disabled.
	History     HistoryReader
	HistoryPath string

	Loader ConfigReloader

	// Health is nil when the daemon runs no component checks.
	Health *health.Checker

	// ClientCount reports connected clients for status.
	ClientCount func() int

	Logger *slog.Logger
}

// DaemonHandler serves plugin and CLI requests.
type DaemonHandler struct {
	cfg       DaemonHandlerConfig
	startedAt time.Time
	logger    *slog.Logger
}

// NewDaemonHandler creates a daemon handler. Engine and Tracker are
// required.
func NewDaemonHandler(cfg DaemonHandlerConfig) (*DaemonHandler, error) {
	if cfg.Engine == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("daemon handler requires an engine and a tracker")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonHandler{
		cfg:       cfg,
		startedAt: time.Now(),
		logger:    logger.With("component", "handler"),
	}, nil
}

// HandleMessage implements Handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(msg)
	case MsgMetricsRequest:
		return h.handleMetrics(msg)
	case MsgHealthRequest:
		if h.cfg.Health == nil {
			return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "health checks disabled"), nil
		}
		report := h.cfg.Health.Run(ctx)
		return NewResponse(MsgHealthResponse, msg.Header.RequestID, &report)
	case MsgCursorMoved:
		return h.handleCursorMoved(msg)
	case MsgEditorClosed:
		return h.handleEditorClosed(msg)
	case MsgHostFocusLost:
		return NewResponse(MsgHostFocusLostResp, msg.Header.RequestID,
			&OutcomeResponse{Outcome: h.cfg.Engine.Leave(ctx)})
	case MsgToolWindowActivated:
		return h.handleToolWindow(ctx, msg)
	case MsgListSources:
		return h.handleListSources(ctx, msg)
	case MsgSwitch:
		return h.handleSwitch(ctx, msg)
	case MsgHistory:
		return h.handleHistory(ctx, msg)
	case MsgReloadConfig:
		return h.handleReload(client, msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

func (h *DaemonHandler) handleStatus(msg *Message) (*Message, error) {
	var req StatusRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	settings := h.cfg.Engine.Settings()
	resp := &StatusResponse{
		Version:     h.cfg.Version,
		StartedAt:   h.startedAt,
		Uptime:      time.Since(h.startedAt).Round(time.Second),
		Enabled:     settings.Enabled,
		NativeIM:    settings.NativeIM,
		LatinIM:     settings.LatinIM,
		DebounceMs:  settings.Debounce.Milliseconds(),
		Backend:     h.cfg.Backend,
		Cached:      h.cfg.Engine.Switcher().Cached(),
		Editors:     h.cfg.Tracker.Len(),
		HistoryPath: h.cfg.HistoryPath,
	}
	if h.cfg.Loader != nil {
		resp.ConfigPath = h.cfg.Loader.Path()
	}
	if h.cfg.ClientCount != nil {
		resp.Clients = h.cfg.ClientCount()
	}
	if h.cfg.Metrics != nil {
		resp.Counters = h.cfg.Metrics.Snapshot()
	}
	if req.IncludeEditors {
		resp.EditorList = h.cfg.Tracker.Editors()
	}
	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleMetrics(msg *Message) (*Message, error) {
	if h.cfg.Metrics == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "metrics disabled"), nil
	}
	h.cfg.Metrics.Snapshot()
	var buf bytes.Buffer
	if err := h.cfg.Metrics.Registry().WritePrometheus(&buf); err != nil {
		return nil, fmt.Errorf("write metrics: %w", err)
	}
	return NewResponse(MsgMetricsResponse, msg.Header.RequestID, &MetricsResponse{Text: buf.String()})
}

func (h *DaemonHandler) handleCursorMoved(msg *Message) (*Message, error) {
	req, err := ValidateCursorMoved(msg.Payload)
	if err != nil {
		h.logger.Debug("cursor event rejected", "error", err)
		payload, _ := Encode(&ErrorResponse{
			Code:    ErrInvalidRequest,
			Message: "invalid cursor event",
			Details: err.Error(),
		})
		return NewMessage(MsgError, msg.Header.RequestID, payload), nil
	}
	snap := req.Snapshot
	h.cfg.Tracker.CursorMoved(req.EditorID, &snap)
	return NewResponse(MsgCursorMovedAck, msg.Header.RequestID, &AckResponse{Accepted: true})
}

func (h *DaemonHandler) handleEditorClosed(msg *Message) (*Message, error) {
	var req EditorRequest
	if err := Decode(msg.Payload, &req); err != nil || req.EditorID == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "editor_id is required"), nil
	}
	closed := h.cfg.Tracker.Close(req.EditorID)
	return NewResponse(MsgEditorClosedAck, msg.Header.RequestID, &AckResponse{Accepted: closed})
}

func (h *DaemonHandler) handleToolWindow(ctx context.Context, msg *Message) (*Message, error) {
	var req ToolWindowRequest
	if err := Decode(msg.Payload, &req); err != nil || req.ID == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "tool window id is required"), nil
	}
	out := h.cfg.Engine.ToolWindow(ctx, req.ID)
	return NewResponse(MsgToolWindowActivatedAck, msg.Header.RequestID, &OutcomeResponse{Outcome: out})
}

func (h *DaemonHandler) handleListSources(ctx context.Context, msg *Message) (*Message, error) {
	settings := h.cfg.Engine.Settings()
	if settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.CallTimeout)
		defer cancel()
	}

	sw := h.cfg.Engine.Switcher()
	sources, err := sw.Sources(ctx)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable,
			fmt.Sprintf("list input sources: %v", err)), nil
	}
	return NewResponse(MsgListSourcesResp, msg.Header.RequestID, &ListSourcesResponse{
		Sources:  sources,
		Cached:   sw.Cached(),
		NativeIM: settings.NativeIM,
		LatinIM:  settings.LatinIM,
	})
}

func (h *DaemonHandler) handleSwitch(ctx context.Context, msg *Message) (*Message, error) {
	var req SwitchRequest
	if err := Decode(msg.Payload, &req); err != nil || strings.TrimSpace(req.Target) == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "target is required"), nil
	}
	out := h.cfg.Engine.Switch(ctx, scenario.ParseTarget(req.Target))
	return NewResponse(MsgSwitchResp, msg.Header.RequestID, &OutcomeResponse{Outcome: out})
}

func (h *DaemonHandler) handleHistory(ctx context.Context, msg *Message) (*Message, error) {
	if h.cfg.History == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "switch history is disabled"), nil
	}
	var req HistoryRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	events, err := h.cfg.History.RecentSwitches(ctx, store.Query{
		EditorID: req.EditorID,
		Path:     req.Path,
		Since:    req.Since,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	counts, err := h.cfg.History.CountByPath(ctx, req.Since)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	return NewResponse(MsgHistoryResp, msg.Header.RequestID, &HistoryResponse{Events: events, Counts: counts})
}

func (h *DaemonHandler) handleReload(client *Client, msg *Message) (*Message, error) {
	if h.cfg.Loader == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "configuration reload unavailable"), nil
	}
	h.logger.Info("configuration reload requested", "client", client.Label())

	cfg, err := h.cfg.Loader.Reload()
	if err != nil {
		payload, _ := Encode(&ErrorResponse{
			Code:    ErrConfigRejected,
			Message: "configuration rejected, previous configuration kept",
			Details: err.Error(),
		})
		return NewMessage(MsgError, msg.Header.RequestID, payload), nil
	}
	return NewResponse(MsgReloadConfigResp, msg.Header.RequestID, &ReloadConfigResponse{
		Path:    h.cfg.Loader.Path(),
		Version: cfg.Version,
	})
}
