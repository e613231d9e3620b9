// Package engine is the public entry point: it wires the graph store, SPM
// manager, scheduler, and GAS executor behind the five operations spec.md §6
// exposes, and owns the configuration and counters for one run.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/asyncgas/engine/internal/gasexec"
	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/scheduler"
	"github.com/asyncgas/engine/internal/spm"
	"github.com/asyncgas/engine/internal/vprog"
)

// Counters mirrors spm.Counters, exposed at the engine boundary so callers
// never need to import internal/spm themselves.
type Counters struct {
	SPMHits        int64
	SPMMisses      int64
	NumFailedLoads int64
}

// Engine owns one run's scheduler, SPM manager, and GAS executor over a
// fixed graph and vertex program. It is not safe to call Start twice.
type Engine[VD, ED any, G vprog.Monoid[G]] struct {
	runID  uuid.UUID
	g      *graph.Graph[VD, ED]
	prog   vprog.VertexProgram[VD, ED, G]
	cfg    Config
	spmMgr *spm.Manager[VD, ED]
	sched  *scheduler.Scheduler
	ctx    *vprog.Context[VD, ED, G]
	cache  *vprog.GatherCache[G]
	exec   *gasexec.Executor[VD, ED, G]
}

// RunID identifies this Engine instance across its own log lines; distinct
// Engine values never share one, even over the same graph and config.
func (e *Engine[VD, ED, G]) RunID() uuid.UUID { return e.runID }

// New validates cfg, then wires a fresh Engine over g and prog. g must not
// be mutated concurrently with any Engine method call.
func New[VD, ED any, G vprog.Monoid[G]](g *graph.Graph[VD, ED], prog vprog.VertexProgram[VD, ED, G], cfg Config) (*Engine[VD, ED, G], error) {
	if g == nil || prog == nil {
		return nil, fmt.Errorf("%w: graph and vertex program are required", ErrCapabilityMismatch)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityMismatch, err)
	}

	sched := scheduler.New(g.NumVertices(), func(vid int) []int {
		v, ok := g.Vertex(vid)
		if !ok {
			return nil
		}
		seen := make(map[int]struct{})
		nbrs := make([]int, 0, v.NumInEdges()+v.NumOutEdges())
		for i := 0; i < v.NumInEdges(); i++ {
			u := v.InEdge(i).Source
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				nbrs = append(nbrs, u)
			}
		}
		for i := 0; i < v.NumOutEdges(); i++ {
			u := v.OutEdge(i).Target
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				nbrs = append(nbrs, u)
			}
		}
		return nbrs
	})

	runID := uuid.New()
	log := cfg.Logger.WithField("run_id", runID)

	cache := vprog.NewGatherCache[G]()
	vctx := vprog.NewContext[VD, ED, G](sched, cache, cfg.EnableCaching, cfg.Clock)
	spmMgr := spm.NewManager[VD, ED](cfg.SPMSize, log)
	exec := gasexec.New[VD, ED, G](g, spmMgr, prog, vctx, cache, cfg.EnableCaching, cfg.LoadAheadDistance, log)

	log.WithField("num_vertices", g.NumVertices()).Debug("engine constructed")

	return &Engine[VD, ED, G]{
		runID: runID, g: g, prog: prog, cfg: cfg,
		spmMgr: spmMgr, sched: sched, ctx: vctx, cache: cache, exec: exec,
	}, nil
}

// SignalAll seeds the active set with every vertex in the graph. Must be
// called before Start.
func (e *Engine[VD, ED, G]) SignalAll() {
	vids := make([]int, 0, e.g.NumVertices())
	for vid := 0; vid < e.g.NumVertices(); vid++ {
		if _, ok := e.g.Vertex(vid); ok {
			vids = append(vids, vid)
		}
	}
	e.sched.SignalAll(vids)
}

// Signal schedules v for (re-)execution, the external counterpart of the
// Context.Signal a vertex program calls internally.
func (e *Engine[VD, ED, G]) Signal(v int) { e.sched.InternalSignal(v) }

// PostDelta folds d into v's cached gather accumulator, if caching is
// enabled and v currently has one.
func (e *Engine[VD, ED, G]) PostDelta(v int, d G) { e.cache.Add(v, d) }

// ClearGatherCache invalidates v's cached gather accumulator.
func (e *Engine[VD, ED, G]) ClearGatherCache(v int) { e.cache.Clear(v) }

// Counters returns a snapshot of the SPM hit/miss/failure counters.
func (e *Engine[VD, ED, G]) Counters() Counters {
	c := e.spmMgr.Counters()
	return Counters{SPMHits: c.SPMHits, SPMMisses: c.SPMMisses, NumFailedLoads: c.NumFailedLoads}
}

// ActiveCount reports the current size of the scheduler's active set, for
// engine/server's /stats endpoint.
func (e *Engine[VD, ED, G]) ActiveCount() int { return e.sched.ActiveCount() }

// State reports vid's current scheduler state, for engine/server's /stats
// endpoint.
func (e *Engine[VD, ED, G]) State(vid int) scheduler.VertexState { return e.sched.State(vid) }

// NumVertices returns the size of the engine's vertex table.
func (e *Engine[VD, ED, G]) NumVertices() int { return e.g.NumVertices() }

// Start runs the worker pool until the active set drains or ctx is
// cancelled, driving every scheduled vertex through the GAS executor.
func (e *Engine[VD, ED, G]) Start(ctx context.Context) error {
	return e.sched.Start(ctx, e.cfg.NumThreads, e.exec.RunVertex)
}
