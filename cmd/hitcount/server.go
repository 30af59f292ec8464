package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flatkv/flatkv/pkg/common/log"
	"github.com/flatkv/flatkv/pkg/store"
)

// Server counts hits per URL path in a persistent store.
type Server struct {
	httpAddr string
	engine   *chi.Mux
	counters *store.Store[string, int64]
}

// NewServer wires the routes onto a chi router.
func NewServer(port int, counters *store.Store[string, int64]) *Server {
	srv := &Server{
		httpAddr: fmt.Sprintf(":%d", port),
		engine:   chi.NewRouter(),
		counters: counters,
	}
	srv.engine.Use(middleware.Logger)
	srv.registerRoutes()
	return srv
}

// Run starts serving; it blocks until the listener fails.
func (s *Server) Run() error {
	log.Info("hitcount listening on %s", s.httpAddr)
	return http.ListenAndServe(s.httpAddr, s.engine)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.Get("/counters", s.listCounters)
	s.engine.Delete("/counters", s.resetCounters)
	s.engine.NotFound(s.countHit)
}

// countHit bumps the counter for the request path and reports the new
// total. The increment is a single locked read-modify-write, so two
// concurrent hits never read the same value.
func (s *Server) countHit(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	// bump and read under one lock acquisition so the reported total is
	// the one this hit produced
	s.counters.Lock()
	defer s.counters.Unlock()
	if err := s.counters.UpsertFunc(key, func(v int64) int64 { return v + 1 }, 1); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	count, err := s.counters.FindValue(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s has been visited %d times\n", key, count)
}

// listCounters returns every counter in key order.
func (s *Server) listCounters(w http.ResponseWriter, r *http.Request) {
	it, err := s.counters.Iterate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer it.Close()

	counts := make(map[string]int64)
	var order []string
	for ; it.Valid(); it.Next() {
		value, err := s.counters.FindValueAt(it.Key(), it.Offset())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		counts[it.Key()] = value
		order = append(order, it.Key())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Order  []string         `json:"order"`
		Counts map[string]int64 `json:"counts"`
	}{Order: order, Counts: counts})
}

// resetCounters drops every counter.
func (s *Server) resetCounters(w http.ResponseWriter, r *http.Request) {
	if err := s.counters.Truncate(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
