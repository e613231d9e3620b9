package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asyncgas/engine/engine"
	"github.com/asyncgas/engine/engine/server"
	"github.com/asyncgas/engine/internal/scheduler"
)

// stubEngine satisfies server.StatsProvider without standing up a real
// engine.Engine, so the HTTP layer can be tested on its own.
type stubEngine struct {
	counters    engine.Counters
	activeCount int
	states      []scheduler.VertexState
}

func (s *stubEngine) Counters() engine.Counters { return s.counters }
func (s *stubEngine) ActiveCount() int          { return s.activeCount }
func (s *stubEngine) NumVertices() int          { return len(s.states) }
func (s *stubEngine) State(vid int) scheduler.VertexState {
	return s.states[vid]
}

type statsBody struct {
	Counters       engine.Counters `json:"counters"`
	ActiveCount    int             `json:"active_count"`
	NumVertices    int             `json:"num_vertices"`
	StateHistogram map[string]int  `json:"state_histogram"`
}

func TestStatsEndpointReportsCountersAndHistogram(t *testing.T) {
	eng := &stubEngine{
		counters:    engine.Counters{SPMHits: 3, SPMMisses: 1, NumFailedLoads: 0},
		activeCount: 2,
		states:      []scheduler.VertexState{scheduler.Running, scheduler.Running, scheduler.Free, scheduler.Scheduled},
	}
	ts := httptest.NewServer(server.NewServer(eng, ":0").Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats failed: %v", err)
	}
	defer resp.Body.Close()

	var body statsBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Counters != eng.counters {
		t.Fatalf("expected counters %+v, got %+v", eng.counters, body.Counters)
	}
	if body.ActiveCount != 2 || body.NumVertices != 4 {
		t.Fatalf("unexpected active_count/num_vertices: %+v", body)
	}
	if body.StateHistogram["Running"] != 2 || body.StateHistogram["Free"] != 1 || body.StateHistogram["Scheduled"] != 1 {
		t.Fatalf("unexpected state histogram: %+v", body.StateHistogram)
	}
}

func TestHealthzEndpointReportsOK(t *testing.T) {
	eng := &stubEngine{}
	ts := httptest.NewServer(server.NewServer(eng, ":0").Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
