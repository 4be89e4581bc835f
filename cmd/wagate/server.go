package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/poll"
	"wagate/internal/service"
	"wagate/internal/tracing"
	"wagate/pkg/waengine"
	waenginetypes "wagate/pkg/waengine/types"

	"github.com/asaskevich/EventBus"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	sessions service.SessionManager
	engine   *waengine.Client
	bus      EventBus.Bus
	limiter  *rateLimiter
	server   *http.Server
	stopCh   chan struct{}
}

func NewServer(cfg *models.Config, sessions service.SessionManager, engine *waengine.Client, bus EventBus.Bus, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		bus:      bus,
		limiter:  newRateLimiter(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.Burst),
		stopCh:   make(chan struct{}),
	}

	s.setupRoutes()
	s.limiter.startCleanup(s.stopCh)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{chatbotId}", s.handleSessionStatus()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{chatbotId}/qr.png", s.handleSessionQR()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{chatbotId}/disconnect", s.handleDisconnectSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{chatbotId}/events", s.handleSessionStream()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)

	s.router.HandleFunc("/webhook/engine", s.handleEngineWebhook()).Methods(http.MethodPost)
}

// observe wraps every request in a span and an access log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
		defer span.End()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
			"trace_id":    tracing.TraceID(ctx),
		}).Debug("Request handled")
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

type createSessionRequest struct {
	ChatbotID string `json:"chatbotId"`
}

type createSessionResponse struct {
	SessionID string               `json:"sessionId"`
	Status    models.SessionStatus `json:"status"`
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.NewValidationError("body", "malformed JSON"))
			return
		}

		session, err := s.sessions.CreateSession(r.Context(), req.ChatbotID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, createSessionResponse{
			SessionID: session.SessionID,
			Status:    session.Status,
		})
	}
}

type sessionStatusResponse struct {
	SessionID       string               `json:"sessionId"`
	Status          models.SessionStatus `json:"status"`
	QRCode          *string              `json:"qrCode,omitempty"`
	LastConnectedAt *time.Time           `json:"lastConnectedAt,omitempty"`
}

func (s *Server) handleSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatbotID := mux.Vars(r)["chatbotId"]

		session, err := s.sessions.GetSession(r.Context(), chatbotID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, sessionStatusResponse{
			SessionID:       session.SessionID,
			Status:          session.Status,
			QRCode:          session.QRCode,
			LastConnectedAt: session.LastConnectedAt,
		})
	}
}

// handleSessionQR renders the current QR payload as a scannable PNG. With
// ?wait=true the handler polls until the session becomes scannable instead
// of failing immediately, which is the dashboard's flow.
func (s *Server) handleSessionQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatbotID := mux.Vars(r)["chatbotId"]

		var session *models.Session
		var err error
		if r.URL.Query().Get("wait") == "true" {
			session, err = s.sessions.WaitForQR(r.Context(), chatbotID, poll.Config{})
		} else {
			session, err = s.sessions.GetSession(r.Context(), chatbotID)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if session.QRCode == nil {
			s.writeError(w, r, errors.New(errors.ErrCodeSessionNotFound, "no QR code available").
				WithContext("status", string(session.Status)))
			return
		}

		png, err := qrcode.Encode(*session.QRCode, qrcode.Medium, qrImageSize)
		if err != nil {
			s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternalError, "failed to render QR code"))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}

type disconnectResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleDisconnectSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatbotID := mux.Vars(r)["chatbotId"]

		if err := s.sessions.DisconnectSession(r.Context(), chatbotID); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, disconnectResponse{Success: true})
	}
}

type sendMessageRequest struct {
	ChatbotID string            `json:"chatbotId"`
	To        string            `json:"to"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"messageId"`
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.NewValidationError("body", "malformed JSON"))
			return
		}
		if req.ChatbotID == "" {
			s.writeError(w, r, errors.NewValidationError("chatbotId", "must not be empty"))
			return
		}
		if req.To == "" {
			s.writeError(w, r, errors.NewValidationError("to", "must not be empty"))
			return
		}
		if req.Message == "" {
			s.writeError(w, r, errors.NewValidationError("message", "must not be empty"))
			return
		}

		if !s.limiter.allow(req.ChatbotID) {
			s.writeError(w, r, errors.New(errors.ErrCodeRateLimit, "send rate limit exceeded").
				WithContext("chatbot_id", req.ChatbotID))
			return
		}

		messageID, err := s.sessions.SendMessage(r.Context(), req.ChatbotID, req.To, req.Message, req.Metadata)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, sendMessageResponse{MessageID: messageID})
	}
}

// handleEngineWebhook ingests lifecycle events from the engine and routes
// them to the bound driver. The engine authenticates with a shared secret.
func (s *Server) handleEngineWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Engine.WebhookSecret != "" &&
			r.Header.Get("X-Webhook-Secret") != s.cfg.Engine.WebhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var payload waenginetypes.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, r, errors.NewValidationError("body", "malformed JSON"))
			return
		}
		if payload.Session == "" {
			s.writeError(w, r, errors.NewValidationError("session", "must not be empty"))
			return
		}

		s.engine.DispatchWebhook(&payload)
		w.WriteHeader(http.StatusOK)
	}
}

// handleSessionStream pushes the chatbot's notifications over a websocket.
// Polling GET /api/sessions/{chatbotId} remains the baseline contract; the
// stream is for dashboards that can hold a socket.
func (s *Server) handleSessionStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatbotID := mux.Vars(r)["chatbotId"]

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		notifications := make(chan models.Notification, 16)
		forward := func(notification models.Notification) {
			select {
			case notifications <- notification:
			default:
			}
		}

		topic := service.ChatbotTopic(chatbotID)
		if err := s.bus.SubscribeAsync(topic, forward, false); err != nil {
			s.logger.WithError(err).Error("Failed to subscribe notification stream")
			return
		}
		defer func() {
			if err := s.bus.Unsubscribe(topic, forward); err != nil {
				s.logger.WithError(err).Debug("Failed to unsubscribe notification stream")
			}
		}()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case notification := <-notifications:
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, notification)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
		tracing.RecordError(r.Context(), err)
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}
