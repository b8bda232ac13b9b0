// Package server exposes the credential manager's HTTP surface: the
// inbound webhook endpoint guarded by signature validation, Prometheus
// metrics, and a health probe.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"credhub/internal/common/logging"
	"credhub/internal/metrics"
	"credhub/internal/signature"
)

// Header names on inbound webhook requests
const (
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderSignature = "X-Signature"
)

// maxWebhookBody caps how much of an inbound webhook we will read
const maxWebhookBody = 1 << 20

// SecretResolver returns the signing secret for a provider kind, or
// empty when the kind has none configured.
type SecretResolver func(kind string) string

// WebhookSink receives the validated raw event for downstream handling
type WebhookSink func(ctx context.Context, kind string, body []byte)

// Server is the HTTP surface
type Server struct {
	router  *mux.Router
	http    *http.Server
	secrets SecretResolver
	sink    WebhookSink
	metrics *metrics.Metrics
	logger  logging.Logger
}

// Options configures a Server
type Options struct {
	Port    string
	Secrets SecretResolver
	Sink    WebhookSink
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// NewServer builds the router and the underlying http.Server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Secrets == nil {
		opts.Secrets = func(string) string { return "" }
	}
	if opts.Sink == nil {
		opts.Sink = func(context.Context, string, []byte) {}
	}

	s := &Server{
		router:  mux.NewRouter(),
		secrets: opts.Secrets,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/webhooks/{kind}", s.handleWebhook).Methods(http.MethodPost)
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.http = &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", logging.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook validates the inbound event's signature before handing
// the body to the sink. Every rejection is a 401 with the validation
// result name; the sender learns nothing about which check failed
// beyond expired vs invalid.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	result := signature.Validate(body,
		r.Header.Get(HeaderTimestamp),
		r.Header.Get(HeaderSignature),
		s.secrets(kind))

	if s.metrics != nil {
		s.metrics.WebhookValidations.WithLabelValues(kind, result.String()).Inc()
	}

	if result != signature.Ok {
		s.logger.Warn("Webhook rejected",
			logging.String("kind", kind),
			logging.String("result", result.String()))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": result.String()})
		return
	}

	s.sink(r.Context(), kind, body)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
