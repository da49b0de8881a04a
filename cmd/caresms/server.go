package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"caresms/internal/constants"
	"caresms/internal/errors"
	"caresms/internal/metrics"
	"caresms/internal/middleware"
	"caresms/internal/models"
	"caresms/internal/service"
	"caresms/pkg/twilio"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	bridge service.MessageBridge
	cfg    *models.Config
	server *http.Server
}

func NewServer(cfg *models.Config, bridge service.MessageBridge, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		bridge: bridge,
		cfg:    cfg,
	}

	s.router.Use(middleware.Observability(logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Provider webhooks, authenticated by request signature.
	s.router.HandleFunc("/webhook/sms", s.handleInboundSMS()).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/status", s.handleStatusCallback()).Methods(http.MethodPost)

	// Operational endpoints, authenticated by admin token.
	s.router.HandleFunc("/execute", s.requireAdmin(s.handleExecute())).Methods(http.MethodPost)
	s.router.HandleFunc("/reconcile", s.requireAdmin(s.handleReconcile())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			s.logger.WithError(err).Error("Failed to write health response")
		}
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics.Export()); err != nil {
			s.logger.WithError(err).Error("Failed to write metrics response")
		}
	}
}

// handleInboundSMS receives incoming-message webhooks from the provider. A
// processing failure is still acknowledged with 200: the event has been
// persisted to the backlog and a provider retry would only duplicate it.
func (s *Server) handleInboundSMS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.parseAndVerify(w, r) {
			return
		}

		event, err := twilio.ParseInboundForm(r.PostForm)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected malformed inbound webhook")
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		outcome, err := s.bridge.HandleInboundEvent(r.Context(), event)
		if err != nil {
			s.logger.WithError(err).Warn("Inbound message processing deferred")
		} else {
			s.logger.WithField("outcome", outcome).Debug("Inbound message processed")
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleStatusCallback receives delivery receipt webhooks from the provider.
func (s *Server) handleStatusCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.parseAndVerify(w, r) {
			return
		}

		event, err := twilio.ParseStatusForm(r.PostForm)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected malformed status webhook")
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		outcome, err := s.bridge.HandleInboundEvent(r.Context(), event)
		if err != nil {
			s.logger.WithError(err).Warn("Status update processing deferred")
		} else {
			s.logger.WithField("outcome", outcome).Debug("Status update processed")
		}
		w.WriteHeader(http.StatusOK)
	}
}

// parseAndVerify bounds and parses the webhook form, then checks the provider
// signature. Returns false if a response was already written.
func (s *Server) parseAndVerify(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return false
	}

	signature := r.Header.Get("X-Twilio-Signature")
	if !twilio.ValidateSignature(s.cfg.Twilio.AuthToken, s.webhookURL(r), r.PostForm, signature) {
		s.logger.WithField("path", r.URL.Path).Warn("Rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return false
	}
	return true
}

// webhookURL reconstructs the public URL the provider signed. Behind a proxy
// the configured public base URL takes precedence over the Host header.
func (s *Server) webhookURL(r *http.Request) string {
	if base := s.cfg.Server.PublicBaseURL; base != "" {
		return strings.TrimSuffix(base, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.AdminAuthToken
		if token == "" {
			next(w, r)
			return
		}
		header := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(header), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleExecute triggers a sweep of due communication requests.
func (s *Server) handleExecute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.bridge.ExecuteDueRequests(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Request execution sweep failed")
			http.Error(w, "execution failed", errors.HTTPStatusCode(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			s.logger.WithError(err).Error("Failed to write execution report")
		}
	}
}

// handleReconcile triggers a reconcile pass. An optional JSON body narrows the
// window: {"windowStart": ..., "windowEnd": ...} in RFC 3339.
func (s *Server) handleReconcile() http.HandlerFunc {
	type reconcileRequest struct {
		WindowStart time.Time `json:"windowStart"`
		WindowEnd   time.Time `json:"windowEnd"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req reconcileRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}

		report, err := s.bridge.Reconcile(r.Context(), req.WindowStart, req.WindowEnd)
		if err != nil {
			s.logger.WithError(err).Error("Reconcile pass failed")
			http.Error(w, "reconcile failed", errors.HTTPStatusCode(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			s.logger.WithError(err).Error("Failed to write reconcile report")
		}
	}
}
