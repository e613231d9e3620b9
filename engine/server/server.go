// Package server exposes a small HTTP observability sidecar for a running
// Engine: /stats for SPM counters and scheduler occupancy, /healthz for a
// liveness probe. It is not part of the engine's control flow — a host
// program starts it alongside Engine.Start, never instead of it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/asyncgas/engine/engine"
	"github.com/asyncgas/engine/internal/scheduler"
)

// StatsProvider is what an Engine[VD, ED, G] value satisfies; Server only
// needs these four methods, not the whole generic surface, so it can stay a
// non-generic type regardless of the engine's VD/ED/G.
type StatsProvider interface {
	Counters() engine.Counters
	ActiveCount() int
	NumVertices() int
	State(vid int) scheduler.VertexState
}

// Server is the observability sidecar HTTP server.
type Server struct {
	eng  StatsProvider
	addr string
}

// NewServer creates a Server bound to eng, listening on addr once Start
// runs.
func NewServer(eng StatsProvider, addr string) *Server {
	return &Server{eng: eng, addr: addr}
}

// statsResponse is the /stats JSON body.
type statsResponse struct {
	Counters       engine.Counters `json:"counters"`
	ActiveCount    int             `json:"active_count"`
	NumVertices    int             `json:"num_vertices"`
	StateHistogram map[string]int  `json:"state_histogram"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	histogram := make(map[string]int)
	n := s.eng.NumVertices()
	for vid := 0; vid < n; vid++ {
		histogram[s.eng.State(vid).String()]++
	}

	resp := statsResponse{
		Counters:       s.eng.Counters(),
		ActiveCount:    s.eng.ActiveCount(),
		NumVertices:    n,
		StateHistogram: histogram,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, fmt.Sprintf("encode error: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// Handler returns the server's route table: /stats and /healthz. Exposed
// separately from Start so tests can drive it over httptest.Server without
// binding a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Printf("engine observability server listening on %s", s.addr)
	return srv.ListenAndServe()
}
