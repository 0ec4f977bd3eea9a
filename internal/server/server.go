// Package server exposes the age verification pipeline over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kokukuma/mdoc-age-verifier/internal/verifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Verifier is the pipeline behind the HTTP surface.
type Verifier interface {
	Initiate(ctx context.Context, p verifier.InitiateParams) (*verifier.Initiation, error)
	Verify(ctx context.Context, sessionID string, credential []byte, origin string) *verifier.Result
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck adds a dependency probe, such as a redis ping, to
// /healthz.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.healthChecks = append(s.healthChecks, check)
	}
}

// WithAllowedOrigins restricts CORS. Without origins any origin is allowed.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

type Server struct {
	svc            Verifier
	logger         *zap.Logger
	gatherer       prometheus.Gatherer
	healthChecks   []func(ctx context.Context) error
	allowedOrigins []string
}

func NewServer(svc Verifier, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		logger:         zap.NewNop(),
		gatherer:       prometheus.DefaultGatherer,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins(s.allowedOrigins),
	))

	api := r.PathPrefix("/api/verification/v2").Subrouter()
	api.HandleFunc("/initiate", s.Initiate).Methods("POST", "OPTIONS")
	api.HandleFunc("/verify", s.Verify).Methods("POST", "OPTIONS")

	r.HandleFunc("/healthz", s.Healthz).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return r
}
