// Package debugserver exposes pprof plus shard/journal diagnostics over a
// local HTTP listener. It is loopback-only by default and carries no
// scheduler operations; the scheduler itself stays an in-process facility.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"snooze/internal/config"
	"snooze/internal/journal"
	"snooze/internal/registry"
	logx "snooze/pkg/logx"
)

// Server manages the lifecycle of the debug HTTP listener.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	reg  *registry.Registry
	jrnl *journal.Service

	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(log logx.Logger, reg *registry.Registry, jrnl *journal.Service) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "debug")), reg: reg, jrnl: jrnl}
}

// Apply starts/stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg config.DebugConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:6060"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && s.addr == cfg.Address {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(cfg)
}

func (s *Server) startLocked(cfg config.DebugConfig) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/shards", s.handleShards)
	mux.HandleFunc("/debug/journal", s.handleJournal)

	srv := &http.Server{Addr: cfg.Address, Handler: mux}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		s.log.Warn("debug listen failed", logx.String("addr", cfg.Address), logx.Err(err))
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server error", logx.Err(err))
		}
	}()
	s.log.Info("debug server enabled", logx.String("addr", s.addr))
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("debug shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("debug server disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	if s.reg == nil {
		http.Error(w, "no registry", http.StatusServiceUnavailable)
		return
	}
	snaps, err := s.reg.Snapshots(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.jrnl == nil {
		http.Error(w, "no journal", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.jrnl.Recent(r.Context(), limit)
	if err != nil {
		if errors.Is(err, journal.ErrDisabled) {
			http.Error(w, "journal disabled", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
