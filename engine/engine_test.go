package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/asyncgas/engine/engine"
	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/scheduler"
	"github.com/asyncgas/engine/internal/vprog"
	"github.com/asyncgas/engine/internal/vprogs"
)

type sumAccum int

func (s sumAccum) Add(o sumAccum) sumAccum { return s + o }

// sumInProgram sets each vertex's data to the sum of its in-edge weights and
// never schedules anything else, so a single SignalAll/Start pass converges.
type sumInProgram struct {
	mu         sync.Mutex
	applyCalls int
}

func (p *sumInProgram) GatherEdges(v *graph.VertexView[int, int]) vprog.EdgeDirection {
	return vprog.InEdges
}

func (p *sumInProgram) Gather(v *graph.VertexView[int, int], e *graph.Edge[int], far *graph.VertexView[int, int]) sumAccum {
	return sumAccum(e.Data)
}

func (p *sumInProgram) Apply(v *graph.VertexView[int, int], accum sumAccum, ctx *vprog.Context[int, int, sumAccum]) {
	p.mu.Lock()
	p.applyCalls++
	p.mu.Unlock()
	*v.Data() = int(accum)
}

func (p *sumInProgram) ScatterEdges(v *graph.VertexView[int, int]) vprog.EdgeDirection {
	return vprog.NoEdges
}

func (p *sumInProgram) Scatter(v *graph.VertexView[int, int], e *graph.Edge[int], far *graph.VertexView[int, int], ctx *vprog.Context[int, int, sumAccum]) {
}

func chainGraph(t *testing.T) *graph.Graph[int, int] {
	t.Helper()
	g := graph.New[int, int]()
	for id := 0; id < 3; id++ {
		if !g.AddVertex(id, 0) {
			t.Fatalf("AddVertex(%d) failed", id)
		}
	}
	if !g.AddEdge(0, 1, 5) || !g.AddEdge(1, 2, 7) {
		t.Fatal("failed to build chain edges")
	}
	return g
}

func TestEngineNewRejectsInvalidConfig(t *testing.T) {
	g := chainGraph(t)
	prog := &sumInProgram{}
	_, err := engine.New[int, int, sumAccum](g, prog, engine.Config{})
	if !errors.Is(err, engine.ErrCapabilityMismatch) {
		t.Fatalf("expected ErrCapabilityMismatch for a zero-value config, got %v", err)
	}
}

func TestEngineRunConvergesAndUpdatesData(t *testing.T) {
	g := chainGraph(t)
	prog := &sumInProgram{}
	eng, err := engine.New[int, int, sumAccum](g, prog, engine.Config{
		LoadAheadDistance: 2,
		SPMSize:           4096,
		NumThreads:        2,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	eng.SignalAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}

	v1, _ := g.Vertex(1)
	v2, _ := g.Vertex(2)
	if *v1.Data() != 5 {
		t.Fatalf("expected vertex 1's data to become 5, got %d", *v1.Data())
	}
	if *v2.Data() != 7 {
		t.Fatalf("expected vertex 2's data to become 7, got %d", *v2.Data())
	}
	if prog.applyCalls != 3 {
		t.Fatalf("expected Apply called once per vertex (3 total), got %d", prog.applyCalls)
	}
}

func TestEngineCountersReflectSPMActivity(t *testing.T) {
	g := chainGraph(t)
	prog := &sumInProgram{}
	eng, err := engine.New[int, int, sumAccum](g, prog, engine.Config{
		LoadAheadDistance: 1,
		SPMSize:           4096,
		NumThreads:        1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	eng.SignalAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}

	counters := eng.Counters()
	if counters.NumFailedLoads != 0 {
		t.Fatalf("expected no failed loads against a 4096-byte scratchpad, got %d", counters.NumFailedLoads)
	}
}

func TestEngineAcceptsZeroLoadAheadDistance(t *testing.T) {
	// look_ahead_distance = 0 is a documented boundary (spec.md §8): no
	// prefetch optimization, but correctness is unaffected.
	g := chainGraph(t)
	prog := &sumInProgram{}
	eng, err := engine.New[int, int, sumAccum](g, prog, engine.Config{
		LoadAheadDistance: 0,
		SPMSize:           4096,
		NumThreads:        1,
	})
	if err != nil {
		t.Fatalf("New rejected LoadAheadDistance=0: %v", err)
	}

	eng.SignalAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}

	v1, _ := g.Vertex(1)
	v2, _ := g.Vertex(2)
	if *v1.Data() != 5 || *v2.Data() != 7 {
		t.Fatalf("expected correct convergence with no look-ahead, got v1=%d v2=%d", *v1.Data(), *v2.Data())
	}
}

func TestEngineSignalReschedulesAVertex(t *testing.T) {
	g := chainGraph(t)
	prog := &sumInProgram{}
	eng, err := engine.New[int, int, sumAccum](g, prog, engine.Config{
		LoadAheadDistance: 1,
		SPMSize:           4096,
		NumThreads:        1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	eng.Signal(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}
	if prog.applyCalls != 1 {
		t.Fatalf("expected exactly one Apply call for the single signalled vertex, got %d", prog.applyCalls)
	}
}

// starInGraph builds a centre vertex with n in-edges from n leaves, each of
// weight 1, and n leaves with no in-edges of their own.
func starInGraph(t *testing.T, n int) *graph.Graph[int, int] {
	t.Helper()
	g := graph.New[int, int]()
	if !g.AddVertex(0, 0) {
		t.Fatal("failed to add centre vertex")
	}
	for i := 1; i <= n; i++ {
		if !g.AddVertex(i, 0) {
			t.Fatalf("AddVertex(%d) failed", i)
		}
		if !g.AddEdge(i, 0, 1) {
			t.Fatalf("failed to add edge %d->0", i)
		}
	}
	return g
}

// runStarInSum runs sumInProgram to completion over a star graph with the
// given scratchpad size and returns the centre vertex's final data and the
// run's SPM counters.
func runStarInSum(t *testing.T, g *graph.Graph[int, int], spmSize int) (int, engine.Counters) {
	t.Helper()
	prog := &sumInProgram{}
	eng, err := engine.New[int, int, sumAccum](g, prog, engine.Config{
		LoadAheadDistance: 2,
		SPMSize:           spmSize,
		NumThreads:        1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	eng.SignalAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}
	v0, _ := g.Vertex(0)
	return *v0.Data(), eng.Counters()
}

func TestEngineSPMStressOverThirtyTwoInEdgesMatchesUnconstrainedRun(t *testing.T) {
	// Only four slots fit: header(32) + 2 vertex slots(32) + 2 edge
	// slots(32) = 96 bytes, forcing eviction/reload churn across the
	// centre's 32-in-edge gather.
	tight := starInGraph(t, 32)
	tightResult, tightCounters := runStarInSum(t, tight, 96)

	// A scratchpad large enough that no load ever fails for lack of room
	// stands in for "SPM disabled".
	loose := starInGraph(t, 32)
	looseResult, _ := runStarInSum(t, loose, 1<<20)

	if tightResult != 32 {
		t.Fatalf("expected centre vertex data to sum to 32, got %d", tightResult)
	}
	if tightResult != looseResult {
		t.Fatalf("tight SPM result %d differs from unconstrained result %d", tightResult, looseResult)
	}

	// Each of the 32 gathered in-edges checks residency of both its edge
	// data and its far vertex data, so the total is 2x the edge count.
	total := tightCounters.SPMHits + tightCounters.SPMMisses
	if total != 64 {
		t.Fatalf("expected spm_hits+spm_misses = 64 (32 edges x 2 endpoints), got %d", total)
	}
}

// haltingPageRank is vprogs.PageRankProgram with a convergence threshold
// loose enough that a 100-vertex run settles within the test's timeout.
func haltingPageRank() *vprogs.PageRankProgram {
	prog := vprogs.NewPageRankProgram()
	prog.ConvergenceThreshold = 1e-2
	return prog
}

func randomGraph(t *testing.T, n int, seed int64) *graph.Graph[vprogs.PageRankData, struct{}] {
	t.Helper()
	g := graph.New[vprogs.PageRankData, struct{}]()
	for i := 0; i < n; i++ {
		if !g.AddVertex(i, vprogs.PageRankData{Rank: 1}) {
			t.Fatalf("AddVertex(%d) failed", i)
		}
	}
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			j := r.Intn(n)
			if j == i {
				continue
			}
			g.AddEdge(i, j, struct{}{})
		}
	}
	return g
}

func TestEngineTerminatesOnHundredVertexRandomGraph(t *testing.T) {
	g := randomGraph(t, 100, 42)
	prog := haltingPageRank()
	eng, err := engine.New[vprogs.PageRankData, struct{}, vprogs.RankAccum](g, prog, engine.Config{
		LoadAheadDistance: 2,
		SPMSize:           4096,
		NumThreads:        4,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	eng.SignalAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start returned an error (possible non-termination): %v", err)
	}

	if ctx.Err() != nil {
		t.Fatal("Start did not return before the timeout; a worker may be blocked")
	}
	if got := eng.ActiveCount(); got != 0 {
		t.Fatalf("expected an empty active set after termination, got %d", got)
	}
	for vid := 0; vid < g.NumVertices(); vid++ {
		if eng.State(vid) != scheduler.Free {
			t.Fatalf("expected vertex %d to be Free after termination, got %v", vid, eng.State(vid))
		}
	}
}
