// Package mgmt exposes a pool's operational surface over HTTP: live gauges,
// metrics, soft-evict-all, and suspend/resume. It is a loopback tool for
// operators and tests, not a public API.
package mgmt

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/superfly/sessionpool/pool"
	"github.com/superfly/sessionpool/stats"
)

// Pool is the slice of the engine the server needs. *pool.Pool[H] satisfies
// it for any H.
type Pool interface {
	Name() string
	PoolState() pool.State
	Active() int
	Idle() int
	Total() int
	Waiting() int
	SoftEvictAll()
	Suspend() error
	Resume()
}

// StatsResp is the GET /stats payload.
type StatsResp struct {
	Name    string          `json:"name"`
	State   string          `json:"state"`
	Total   int             `json:"total"`
	Active  int             `json:"active"`
	Idle    int             `json:"idle"`
	Waiting int             `json:"waiting"`
	Metrics *stats.Snapshot `json:"metrics,omitempty"`
}

// Server serves the management endpoints for one pool.
type Server struct {
	*http.Server
	pool     Pool
	recorder *stats.Recorder
	log      logrus.FieldLogger
}

type Opt func(*Server)

// Recorder attaches a metrics recorder whose snapshot is included in /stats.
func Recorder(r *stats.Recorder) Opt {
	return func(s *Server) { s.recorder = r }
}

// Logger sets the logger. The default is logrus.StandardLogger().
func Logger(l logrus.FieldLogger) Opt {
	return func(s *Server) { s.log = l }
}

// New builds a management server for p listening on port.
func New(p Pool, port int, opts ...Opt) *Server {
	server := &Server{
		pool: p,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(server)
	}

	// Routes match on path; the method is checked in the handler, so the
	// routes do not depend on the mux's method-pattern syntax.
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				w.Header().Set("Allow", method)
				http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		})
	}
	route(http.MethodGet, "/stats", server.handleStats)
	route(http.MethodPost, "/evict", server.handleEvict)
	route(http.MethodPost, "/suspend", server.handleSuspend)
	route(http.MethodPost, "/resume", server.handleResume)

	server.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 4096,
		Handler:        mux,
	}
	return server
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debugf("mgmt: encode response: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := &StatsResp{
		Name:    s.pool.Name(),
		State:   s.pool.PoolState().String(),
		Total:   s.pool.Total(),
		Active:  s.pool.Active(),
		Idle:    s.pool.Idle(),
		Waiting: s.pool.Waiting(),
	}
	if s.recorder != nil {
		resp.Metrics = s.recorder.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	s.log.Infof("mgmt: soft-evicting all handles in %s", s.pool.Name())
	s.pool.SoftEvictAll()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Suspend(); err != nil {
		if errors.Is(err, pool.ErrNotSuspendable) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Infof("mgmt: suspended %s", s.pool.Name())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.pool.Resume()
	s.log.Infof("mgmt: resumed %s", s.pool.Name())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
