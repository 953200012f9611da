package planner

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/voltplan/voltplan/core/events"
	"github.com/voltplan/voltplan/core/override"
	"github.com/voltplan/voltplan/core/planner"
	"github.com/voltplan/voltplan/infra/logger"
)

// Server exposes the latest decision and manual controls over HTTP.
type Server struct {
	addr     string
	engine   *planner.Engine
	loop     *planner.Loop
	log      logger.Logger
	srv      *http.Server
	onChange func(events.OverrideChanged)
}

// NewServer wires the API around a running loop. onChange may be nil; when
// set it receives every override mutation made through the API.
func NewServer(addr string, engine *planner.Engine, loop *planner.Loop, onChange func(events.OverrideChanged)) *Server {
	return &Server{
		addr:     addr,
		engine:   engine,
		loop:     loop,
		log:      logger.New("api"),
		onChange: onChange,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Errorf("write healthz: %v", err)
		}
	})
	mux.HandleFunc("/api/decision", s.handleDecision)
	mux.HandleFunc("/api/override", s.handleOverride)
	mux.HandleFunc("/api/overrides", s.handleOverrides)
	mux.HandleFunc("/api/permissive", s.handlePermissive)
	return mux
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dec, ok := s.loop.Last()
	if !ok {
		http.Error(w, "no decision yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, dec)
}

type overrideRequest struct {
	Target          string `json:"target"`
	Action          string `json:"action"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		target, err := override.ParseTarget(req.Target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		action, err := override.ParseAction(req.Action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ov := s.engine.Overrides().Set(target, action, time.Duration(req.DurationMinutes)*time.Minute)
		s.log.Infof("override set target=%s action=%s", target, action)
		s.notify(events.OverrideChanged{Time: time.Now(), ID: ov.ID, Target: string(target), Action: string(action), Set: true})
		s.loop.Trigger()
		s.writeJSON(w, ov)
	case http.MethodDelete:
		target, err := override.ParseTarget(r.URL.Query().Get("target"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.engine.Overrides().Clear(target)
		s.log.Infof("override cleared target=%s", target)
		s.notify(events.OverrideChanged{Time: time.Now(), Target: string(target), Set: false})
		s.loop.Trigger()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.Overrides().Active())
}

type permissiveRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handlePermissive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, permissiveRequest{Enabled: s.engine.Permissive()})
	case http.MethodPut, http.MethodPost:
		var req permissiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.engine.SetPermissive(req.Enabled)
		s.log.Infof("permissive mode set to %v", req.Enabled)
		s.loop.Trigger()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}

func (s *Server) notify(ev events.OverrideChanged) {
	if s.onChange != nil {
		s.onChange(ev)
	}
}

// Addr returns the listening address once Start has been called.
func (s *Server) Addr() string { return s.addr }

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.routes()
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("API listening on %s", s.addr)
	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
