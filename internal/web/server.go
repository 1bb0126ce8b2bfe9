// Package web serves the submission form, the job status endpoint and,
// optionally, pprof on one listener.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"msgblast/internal/runtime/supervisor"
	logx "msgblast/pkg/logx"
)

type Config struct {
	Addr         string
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxUploadBytes  int64
	UploadsDir      string
	DefaultInterval time.Duration
	MaxInterval     time.Duration

	PprofEnabled bool
	PprofPrefix  string
	PprofToken   string
}

// Service owns the HTTP listener. Settings that only affect request
// handling are swapped in place; listener settings restart the server.
type Service struct {
	log logx.Logger
	h   *handlers
	cfg atomic.Pointer[Config]

	mu   sync.Mutex
	sup  *supervisor.Supervisor
	srv  *http.Server
	addr string
}

func New(cfg Config, submit Submitter, jobs Jobs, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "web"))}
	s.cfg.Store(&cfg)
	s.h = &handlers{
		cfg:    func() Config { return *s.cfg.Load() },
		submit: submit,
		jobs:   jobs,
		log:    s.log,
	}
	return s
}

// Handler builds the routes for the current config.
func (s *Service) Handler() http.Handler {
	cfg := *s.cfg.Load()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.h.index)
	mux.HandleFunc("POST /{$}", s.h.submitForm)
	mux.HandleFunc("GET /status/{id}", s.h.status)
	// Empty or nested ids still get the JSON not-found body.
	mux.HandleFunc("GET /status/", s.h.status)
	mux.HandleFunc("GET /healthz", s.h.healthz)
	if cfg.PprofEnabled {
		mountPprof(mux, cfg.PprofPrefix, cfg.PprofToken)
	}
	return chain(mux, recovery(s.log), accessLog(s.log))
}

// Addr is the bound listener address, empty when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves under a restart loop. A bind failure
// is returned to the caller.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	cfg := *s.cfg.Load()
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	addr, first := s.addr, ln
	s.sup.GoRestart("http.serve", func(c context.Context) error {
		l := first
		first = nil
		if l == nil {
			var lerr error
			if l, lerr = net.Listen("tcp", addr); lerr != nil {
				return lerr
			}
		}
		err := srv.Serve(l)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	s.log.Info("http started", logx.String("addr", s.addr), logx.Bool("pprof", cfg.PprofEnabled))
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	_ = sup.Stop(ctx)
	s.log.Info("http stopped")
}

// Reconfigure applies cfg, restarting the listener when needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	prev := s.cfg.Swap(&cfg)
	s.mu.Lock()
	running := s.srv != nil
	s.mu.Unlock()
	if !running || !needsRestart(*prev, cfg) {
		return nil
	}
	s.log.Info("http restarting for new config")
	s.Stop(ctx)
	return s.Start(ctx)
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout ||
		a.PprofEnabled != b.PprofEnabled || a.PprofPrefix != b.PprofPrefix || a.PprofToken != b.PprofToken
}
