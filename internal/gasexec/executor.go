// Package gasexec implements the per-vertex gather/apply/scatter driver: the
// component that ties a graph, an SPM manager, and a vertex program together
// and runs one vertex's full GAS pass under the scheduler's neighbourhood
// exclusion.
package gasexec

import (
	"github.com/sirupsen/logrus"

	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/spm"
	"github.com/asyncgas/engine/internal/vprog"
)

// neighbourEdge pairs an edge with the id of the vertex at its far endpoint,
// relative to the vertex currently running.
type neighbourEdge[ED any] struct {
	edge    *graph.Edge[ED]
	farVid  int
	fromOut bool // true if this edge is v's out-edge (far = Target), false if in-edge (far = Source)
}

// Executor runs RunVertex for one vid at a time; the caller (scheduler.Start's
// worker loop, via engine.Engine) is responsible for holding that vid's
// neighbourhood exclusively for the duration of the call.
type Executor[VD, ED any, G vprog.Monoid[G]] struct {
	g         *graph.Graph[VD, ED]
	spmMgr    *spm.Manager[VD, ED]
	prog      vprog.VertexProgram[VD, ED, G]
	ctx       *vprog.Context[VD, ED, G]
	cache     *vprog.GatherCache[G]
	cachingOn bool
	lookAhead int
	log       *logrus.Entry
}

// New creates an Executor. cache and ctx must share the same GatherCache
// instance the owning engine uses for PostDelta/ClearGatherCache.
func New[VD, ED any, G vprog.Monoid[G]](
	g *graph.Graph[VD, ED],
	spmMgr *spm.Manager[VD, ED],
	prog vprog.VertexProgram[VD, ED, G],
	ctx *vprog.Context[VD, ED, G],
	cache *vprog.GatherCache[G],
	cachingOn bool,
	lookAhead int,
	log *logrus.Entry,
) *Executor[VD, ED, G] {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor[VD, ED, G]{
		g: g, spmMgr: spmMgr, prog: prog, ctx: ctx, cache: cache,
		cachingOn: cachingOn, lookAhead: lookAhead, log: log,
	}
}

// RunVertex executes the full gather/apply/scatter pass for vid.
func (ex *Executor[VD, ED, G]) RunVertex(vid int) {
	v, ok := ex.g.Vertex(vid)
	if !ok {
		return
	}

	ex.log.WithField("vid", vid).Debug("running vertex")

	doubcon := make(map[int]struct{})
	ex.prePhasePrefetch(v)

	accum, preservedOut := ex.gather(v, doubcon)
	ex.prog.Apply(v, accum, ex.ctx)
	ex.scatter(v, doubcon, preservedOut)

	for nb := range doubcon {
		ex.evictVertexByID(nb)
	}
}

// inEdgesList and outEdgesList build the typed adjacency views gather/scatter
// iterate; out is built lazily so callers that only need one side don't pay
// for the other.
func inEdgesList[VD, ED any](v *graph.VertexView[VD, ED]) []neighbourEdge[ED] {
	n := v.NumInEdges()
	list := make([]neighbourEdge[ED], n)
	for i := 0; i < n; i++ {
		e := v.InEdge(i)
		list[i] = neighbourEdge[ED]{edge: e, farVid: e.Source, fromOut: false}
	}
	return list
}

func outEdgesList[VD, ED any](v *graph.VertexView[VD, ED]) []neighbourEdge[ED] {
	n := v.NumOutEdges()
	list := make([]neighbourEdge[ED], n)
	for i := 0; i < n; i++ {
		e := v.OutEdge(i)
		list[i] = neighbourEdge[ED]{edge: e, farVid: e.Target, fromOut: true}
	}
	return list
}

// buildList assembles the sequence gather/scatter iterate for dir. inFirst
// controls spillover order: gather visits in-edges then spills into
// out-edges; scatter visits out-edges then spills into in-edges.
func (ex *Executor[VD, ED, G]) buildList(v *graph.VertexView[VD, ED], dir vprog.EdgeDirection, inFirst bool) []neighbourEdge[ED] {
	var in, out []neighbourEdge[ED]
	if dir == vprog.InEdges || dir == vprog.AllEdges {
		in = inEdgesList[VD, ED](v)
	}
	if dir == vprog.OutEdges || dir == vprog.AllEdges {
		out = outEdgesList[VD, ED](v)
	}
	if inFirst {
		return append(in, out...)
	}
	return append(out, in...)
}

// prefetch issues a non-blocking load of ne's edge data and far vertex data.
func (ex *Executor[VD, ED, G]) prefetch(ne neighbourEdge[ED]) {
	ex.spmMgr.LoadEdgeData(&ne.edge.Data)
	if far, ok := ex.g.Vertex(ne.farVid); ok {
		ex.spmMgr.LoadVertexData(far.Data())
	}
}

// checkResidency is spec.md's check_spm_hit: before touching ne's edge or far
// vertex data in a gather/scatter step, record whether prePhasePrefetch (or
// the executor's own look-ahead) had already brought it in.
func (ex *Executor[VD, ED, G]) checkResidency(ne neighbourEdge[ED]) {
	if _, ok := ex.spmMgr.ReadEdgeData(&ne.edge.Data); ok {
		ex.spmMgr.RecordHit()
	} else {
		ex.spmMgr.RecordMiss()
	}
	if far, ok := ex.g.Vertex(ne.farVid); ok {
		if _, ok := ex.spmMgr.ReadVertexData(far.Data()); ok {
			ex.spmMgr.RecordHit()
		} else {
			ex.spmMgr.RecordMiss()
		}
	}
}

// evict drops ne's edge data, and its far vertex data unless the edge is
// doubly-connected, in which case eviction of the vertex side is deferred
// until the full GAS pass completes (doubcon records the deferral).
func (ex *Executor[VD, ED, G]) evict(ne neighbourEdge[ED], doubcon map[int]struct{}) {
	ex.spmMgr.RemoveEdgeData(&ne.edge.Data)
	if ne.edge.HasOpposite {
		doubcon[ne.farVid] = struct{}{}
		return
	}
	ex.evictVertexByID(ne.farVid)
}

func (ex *Executor[VD, ED, G]) evictVertexByID(vid int) {
	if far, ok := ex.g.Vertex(vid); ok {
		ex.spmMgr.RemoveVertexData(far.Data())
	}
}

// ---------------------------------------------------------------------------
// 4.6.1 Pre-phase prefetch
// ---------------------------------------------------------------------------

// prePhasePrefetch prefetches up to L in-edges, then spills into out-edges
// for whatever look-ahead budget remains, independent of which direction
// GatherEdges will eventually choose.
func (ex *Executor[VD, ED, G]) prePhasePrefetch(v *graph.VertexView[VD, ED]) {
	in := inEdgesList[VD, ED](v)
	inBudget := ex.lookAhead
	if inBudget > len(in) {
		inBudget = len(in)
	}
	for i := 0; i < inBudget; i++ {
		ex.prefetch(in[i])
	}

	out := outEdgesList[VD, ED](v)
	outBudget := ex.lookAhead - inBudget
	if outBudget < 0 {
		outBudget = 0
	}
	if outBudget > len(out) {
		outBudget = len(out)
	}
	for i := 0; i < outBudget; i++ {
		ex.prefetch(out[i])
	}
}

// ---------------------------------------------------------------------------
// 4.6.2 Gather
// ---------------------------------------------------------------------------

// gather returns the computed accumulator and the out-edges it deliberately
// left resident (the first L out-edge-list positions) because scatter is
// likely to reuse them; scatter is responsible for evicting whichever of
// these it does not actually revisit.
func (ex *Executor[VD, ED, G]) gather(v *graph.VertexView[VD, ED], doubcon map[int]struct{}) (G, []neighbourEdge[ED]) {
	vid := v.ID()

	if ex.cachingOn {
		if cached, ok := ex.cache.Get(vid); ok {
			ex.discardPrePhasePreload(v, doubcon)
			return cached, nil
		}
	}

	dir := ex.prog.GatherEdges(v)
	ex.evictSideExcludedByDirection(v, dir, doubcon)

	var accum G
	var gathered bool
	var preserved []neighbourEdge[ED]
	list := ex.buildList(v, dir, true)

	// When dir is IN_EDGES only, list holds just the in-edges, but the
	// look-ahead window still needs somewhere to spill into once it runs
	// past the end of them: out edges are loaded even though gather itself
	// will not visit them, on the assumption that scatter begins there.
	// AllEdges already has both sides in list; OutEdges has no spillover
	// target of its own, matching the out-edges loop below.
	prefetchList := list
	if dir == vprog.InEdges {
		prefetchList = append(append([]neighbourEdge[ED]{}, list...), outEdgesList[VD, ED](v)...)
	}

	inCount := v.NumInEdges()
	if dir == vprog.OutEdges {
		inCount = 0
	}

	for i, ne := range list {
		if i+ex.lookAhead < len(prefetchList) {
			ex.prefetch(prefetchList[i+ex.lookAhead])
		}

		ex.checkResidency(ne)
		far, _ := ex.g.Vertex(ne.farVid)
		accum = accum.Add(ex.prog.Gather(v, ne.edge, far))
		gathered = true

		outIdx := i - inCount
		preserveSlot := ne.fromOut && outIdx >= 0 && outIdx < ex.lookAhead
		if preserveSlot {
			preserved = append(preserved, ne)
		} else {
			ex.evict(ne, doubcon)
		}
	}

	if ex.cachingOn && gathered {
		ex.cache.Set(vid, accum)
	}
	return accum, preserved
}

// discardPrePhasePreload evicts everything prePhasePrefetch loaded, used
// when the gather body is skipped entirely on a cache hit (equivalent to a
// NO_EDGES gather discarding its pre-loaded entries).
func (ex *Executor[VD, ED, G]) discardPrePhasePreload(v *graph.VertexView[VD, ED], doubcon map[int]struct{}) {
	for _, ne := range inEdgesList[VD, ED](v) {
		ex.evict(ne, doubcon)
	}
	for _, ne := range outEdgesList[VD, ED](v) {
		ex.evict(ne, doubcon)
	}
}

// evictSideExcludedByDirection discards whichever side(s) prePhasePrefetch
// preloaded but dir does not select.
func (ex *Executor[VD, ED, G]) evictSideExcludedByDirection(v *graph.VertexView[VD, ED], dir vprog.EdgeDirection, doubcon map[int]struct{}) {
	if dir != vprog.InEdges && dir != vprog.AllEdges {
		for _, ne := range inEdgesList[VD, ED](v) {
			ex.evict(ne, doubcon)
		}
	}
	if dir != vprog.OutEdges && dir != vprog.AllEdges {
		for _, ne := range outEdgesList[VD, ED](v) {
			ex.evict(ne, doubcon)
		}
	}
}

// ---------------------------------------------------------------------------
// 4.6.4 Scatter
// ---------------------------------------------------------------------------

func (ex *Executor[VD, ED, G]) scatter(v *graph.VertexView[VD, ED], doubcon map[int]struct{}, preservedOut []neighbourEdge[ED]) {
	dir := ex.prog.ScatterEdges(v)
	list := ex.buildList(v, dir, false) // out-edges first, spilling into in-edges

	visited := make(map[int]struct{}, len(preservedOut))
	for i, ne := range list {
		if i+ex.lookAhead < len(list) {
			ex.prefetch(list[i+ex.lookAhead])
		}

		ex.checkResidency(ne)
		far, _ := ex.g.Vertex(ne.farVid)
		ex.prog.Scatter(v, ne.edge, far, ex.ctx)
		// Scatter writes main memory directly; refresh any resident mirror so
		// the store-back on eviction does not overwrite those writes.
		ex.spmMgr.WriteEdgeData(&ne.edge.Data, ne.edge.Data)
		if far != nil {
			ex.spmMgr.WriteVertexData(far.Data(), *far.Data())
		}
		ex.evict(ne, doubcon)
		if ne.fromOut {
			visited[ne.farVid] = struct{}{}
		}
	}

	// Any out-edge slot gather preserved in anticipation of reuse, but that
	// scatter's own direction never actually revisited, still needs cleanup.
	for _, ne := range preservedOut {
		if _, seen := visited[ne.farVid]; !seen {
			ex.evict(ne, doubcon)
		}
	}
}
