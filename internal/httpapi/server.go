package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
	"github.com/BrandonDHaskell/parkgate/internal/serialport"
)

const defaultAuditLimit = 100

// SerialLink is the transport control surface exposed to operators.
type SerialLink interface {
	Connect(ctx context.Context, name string) error
	Disconnect() error
	Status() serialport.Status
}

type Dependencies struct {
	Logger *zap.Logger
	Addr   string
	Engine *service.Engine

	// Link may be nil when the process runs without a serial transport.
	Link SerialLink

	// Ports lists serial devices. Defaults to serialport.Ports.
	Ports func() ([]string, error)

	// BaseContext outlives requests; transport sessions started over HTTP
	// are bound to it. Defaults to context.Background().
	BaseContext context.Context

	Now func() time.Time
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	engine     *service.Engine
	link       SerialLink
	ports      func() ([]string, error)
	baseCtx    context.Context
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		engine:  d.Engine,
		link:    d.Link,
		ports:   d.Ports,
		baseCtx: d.BaseContext,
		now:     d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.ports == nil {
		s.ports = serialport.Ports
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	mux.HandleFunc("GET /v1/slots", s.handleSlots)
	mux.HandleFunc("GET /v1/roster", s.handleRoster)
	mux.HandleFunc("POST /v1/roster", s.handleAddEntry)
	mux.HandleFunc("DELETE /v1/roster/{decision}", s.handleClearRoster)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/prompt", s.handlePrompt)
	mux.HandleFunc("POST /v1/prompt/{id}/slot", s.handleChooseSlot)
	mux.HandleFunc("POST /v1/prompt/{id}/onboard", s.handleOnboard)
	mux.HandleFunc("POST /v1/prompt/{id}/cancel", s.handleCancelPrompt)
	mux.HandleFunc("POST /v1/lines", s.handleLine)
	mux.HandleFunc("GET /v1/serial", s.handleSerialStatus)
	mux.HandleFunc("GET /v1/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("POST /v1/serial/connect", s.handleSerialConnect)
	mux.HandleFunc("POST /v1/serial/disconnect", s.handleSerialDisconnect)

	handler := loggingMiddleware(s.logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Board and roster ─────────────────────────────────────────────────────────

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{
		"slots":  slotsToView(s.engine.Slots(), s.now()),
		"queued": s.engine.QueueLen(),
	})
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.engine.Roster())
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	entry := req.toEntry()
	err := s.engine.AddEntry(r.Context(), entry)
	if err != nil && !service.IsWarning(err) {
		s.writeEngineError(w, r, err)
		return
	}

	resp := map[string]any{"ok": true, "tag_id": entry.TagID}
	if warnings := warningList(err); len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleClearRoster(w http.ResponseWriter, r *http.Request) {
	d, err := types.ParseDecision(r.PathValue("decision"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_decision", err.Error())
		return
	}

	n, err := s.engine.ClearRoster(r.Context(), d)
	if err != nil && !service.IsWarning(err) {
		s.writeEngineError(w, r, err)
		return
	}

	resp := map[string]any{"removed": n}
	if warnings := warningList(err); len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	respond(w, r, http.StatusOK, map[string]any{"entries": s.engine.Audit().Tail(limit)})
}

// ── Prompts ──────────────────────────────────────────────────────────────────

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := s.engine.Pending()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleChooseSlot(w http.ResponseWriter, r *http.Request) {
	var req chooseSlotRequest
	if err := decodeBody(w, r, &req); err != nil || req.Slot == nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "slot is required")
		return
	}

	res, err := s.engine.ChooseSlot(r.Context(), r.PathValue("id"), *req.Slot)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, resultToView(res, nil))
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res, err := s.engine.CompleteOnboarding(r.Context(), r.PathValue("id"), req.Name, req.Role, types.Decision(req.Decision))
	if err != nil && !service.IsWarning(err) {
		s.writeEngineError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, resultToView(res, err))
}

func (s *Server) handleCancelPrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelPrompt(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

// ── Ingress ──────────────────────────────────────────────────────────────────

func (s *Server) handleLine(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	res, err := s.engine.HandleLine(r.Context(), req.Line)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, resultToView(res, nil))
}

// ── Serial transport ─────────────────────────────────────────────────────────

func (s *Server) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	st := serialport.Status{}
	if s.link != nil {
		st = s.link.Status()
	}
	respond(w, r, http.StatusOK, map[string]any{
		"connected": st.Connected,
		"port":      st.Port,
		"egress":    s.engine.EgressAvailable(),
	})
}

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.ports()
	if err != nil {
		s.logger.Error("list serial ports", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "ports_unavailable", err.Error())
		return
	}
	if ports == nil {
		ports = []string{}
	}
	respond(w, r, http.StatusOK, map[string]any{"ports": ports})
}

func (s *Server) handleSerialConnect(w http.ResponseWriter, r *http.Request) {
	if s.link == nil {
		writeError(w, r, http.StatusNotImplemented, "no_transport", "serial transport not configured")
		return
	}
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	err := s.link.Connect(s.baseCtx, req.Port)
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, s.link.Status())
	case errors.Is(err, serialport.ErrNoPortName):
		writeError(w, r, http.StatusBadRequest, "invalid_port", err.Error())
	case errors.Is(err, serialport.ErrAlreadyConnected):
		writeError(w, r, http.StatusConflict, "already_connected", err.Error())
	default:
		s.logger.Error("serial connect failed", zap.String("port", req.Port), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "open_failed", err.Error())
	}
}

func (s *Server) handleSerialDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.link == nil {
		writeError(w, r, http.StatusNotImplemented, "no_transport", "serial transport not configured")
		return
	}
	err := s.link.Disconnect()
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, s.link.Status())
	case errors.Is(err, serialport.ErrNotConnected):
		writeError(w, r, http.StatusConflict, "not_connected", err.Error())
	default:
		s.logger.Error("serial disconnect failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "close_failed", err.Error())
	}
}

// writeEngineError maps engine errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNoPendingPrompt), errors.Is(err, service.ErrPromptMismatch):
		writeError(w, r, http.StatusNotFound, "prompt_not_found", err.Error())
	case errors.Is(err, service.ErrSlotNotAssignable),
		errors.Is(err, service.ErrSlotNotOccupied),
		errors.Is(err, service.ErrNoSlotSelectable):
		writeError(w, r, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, service.ErrSlotOutOfRange):
		writeError(w, r, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, service.ErrInvalidTagID):
		writeError(w, r, http.StatusBadRequest, "invalid_tag_id", err.Error())
	case errors.Is(err, service.ErrInvalidName):
		writeError(w, r, http.StatusBadRequest, "invalid_name", err.Error())
	case errors.Is(err, types.ErrInvalidDecision):
		writeError(w, r, http.StatusBadRequest, "invalid_decision", err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
