package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/catalog"
	"github.com/ent0n29/curator/internal/config"
	"github.com/ent0n29/curator/internal/observability"
	"github.com/ent0n29/curator/internal/protocol"
	"github.com/ent0n29/curator/internal/session"
	"github.com/ent0n29/curator/internal/turn"
)

// CatalogService exposes the shared catalog to the API.
type CatalogService interface {
	Catalog(ctx context.Context) (catalog.Catalog, catalog.Condition)
	Reload(ctx context.Context) (catalog.Catalog, catalog.Condition)
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	catalog   CatalogService
	brainName string
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	static    http.Handler
}

type Options struct {
	Config    config.Config
	Sessions  *session.Manager
	Catalog   CatalogService
	BrainName string
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

func New(opts Options) *Server {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		sessions:  opts.Sessions,
		catalog:   opts.Catalog,
		brainName: opts.BrainName,
		metrics:   opts.Metrics,
		logger:    logger.Named("httpapi"),
		static:    uiHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Get("/v1/chat/session/ws", s.handleSessionWS)
	r.Get("/v1/chat/session/{id}", s.handleGetSession)
	r.Post("/v1/chat/session/{id}/messages", s.handleSendMessage)
	r.Get("/v1/chat/session/{id}/transcript", s.handleTranscript)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/catalog/stats", s.handleCatalogStats)
	r.Post("/v1/catalog/reload", s.handleCatalogReload)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"brain":  s.brainName,
	})
}

// handleReady reports degraded when the catalog is empty: chats still work
// but every turn fails with grounding_unavailable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	var cond catalog.Condition
	records := 0
	if s.catalog != nil {
		var c catalog.Catalog
		c, cond = s.catalog.Catalog(r.Context())
		records = c.Len()
		if c.Empty() {
			status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"brain":           s.brainName,
		"catalog_records": records,
		"catalog":         cond,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess, greeting := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		PersonaID:       sess.PersonaID,
		Greeting:        greeting,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req session.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "empty_input", turn.ErrEmptyInput.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	out, err := s.sessions.Send(r.Context(), id, req.Text)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	sess, _ := s.sessions.Get(id)
	resp := session.SendResponse{
		SessionID:  id,
		Phase:      out.Phase,
		UserTurn:   out.UserTurn,
		Reply:      out.Reply,
		Diagnostic: out.Diagnostic,
	}
	if sess != nil {
		resp.TurnCount = sess.TurnCount
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	turns, err := s.sessions.Transcript(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session.TranscriptResponse{
		SessionID: id,
		Status:    sess.Status,
		Turns:     turns,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("websocket write failed", zap.String("session_id", sessionID), zap.Error(err))
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	var dispatches sync.WaitGroup
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(errorEvent(sessionID, "invalid_client_message", "gateway", false, err.Error()))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.ClientMessage:
			if m.SessionID != sessionID {
				send(errorEvent(sessionID, "session_mismatch", "gateway", false, "session_id does not match connection"))
				continue
			}
			// Blank input is a no-op: nothing is appended and no turn starts.
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			send(protocol.DispatchPending{Type: protocol.TypeDispatchPending, SessionID: sessionID, Text: m.Text, At: time.Now().UTC()})
			dispatches.Add(1)
			go func(text string) {
				defer dispatches.Done()
				s.dispatchWS(ctx, sessionID, text, send)
			}(m.Text)
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err == nil {
					s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
					s.metrics.SessionEvents.WithLabelValues("ended").Inc()
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
			case protocol.ActionPing:
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
			default:
				send(errorEvent(sessionID, "unsupported_action", "gateway", false, m.Action))
			}
		}
	}

	cancel()
	dispatches.Wait()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatchWS(ctx context.Context, sessionID, text string, send func(any)) {
	out, err := s.sessions.Send(ctx, sessionID, text)
	if err != nil {
		code, _ := sessionErrorCode(err)
		send(errorEvent(sessionID, code, "dispatcher", errors.Is(err, turn.ErrBusy), err.Error()))
		return
	}
	if out.Reply != nil {
		send(protocol.AssistantReply{Type: protocol.TypeAssistantReply, SessionID: sessionID, Text: out.Reply.Text, At: out.Reply.At})
		return
	}
	if out.Diagnostic != nil {
		send(protocol.TurnFailed{
			Type:      protocol.TypeTurnFailed,
			SessionID: sessionID,
			Code:      out.Diagnostic.Code,
			Message:   out.Diagnostic.Message,
			Retryable: out.Diagnostic.Retryable,
		})
	}
}

func errorEvent(sessionID, code, source string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondSessionError(w http.ResponseWriter, err error) {
	code, status := sessionErrorCode(err)
	respondError(w, status, code, err.Error())
}

func sessionErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found", http.StatusNotFound
	case errors.Is(err, session.ErrEnded):
		return "session_ended", http.StatusConflict
	case errors.Is(err, turn.ErrEmptyInput):
		return "empty_input", http.StatusBadRequest
	case errors.Is(err, turn.ErrBusy):
		return "dispatch_busy", http.StatusConflict
	default:
		return "internal_error", http.StatusInternalServerError
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.DispatchPending:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.TurnFailed:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
