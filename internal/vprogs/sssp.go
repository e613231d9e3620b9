package vprogs

import (
	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/vprog"
)

// SSSPData is one vertex's single-source-shortest-path state. Dist is -1
// until the vertex is first reached. dirty records whether the last Apply
// improved Dist, which ScatterEdges uses to decide whether to fan out at
// all; like PageRankData.Delta, this has to live on the vertex rather than
// on SSSPProgram since one SSSPProgram value is shared across every
// concurrently-running vertex goroutine.
type SSSPData struct {
	Dist  int64
	dirty bool
}

// MinAccum gathers the smallest proposed distance among a vertex's
// in-neighbours. has distinguishes "no proposal seen yet" from "a proposal
// of 0 was seen" — the zero value (has: false) is the identity element, so
// it composes correctly with vprog.GatherCache's zero-valued starting
// accumulator. The original sample program's accumulator instead defaulted
// its minimum to 0 with no such flag, which meant its own merge rule could
// never accept an update from a freshly zero-valued accumulator; this
// rebuilds the same idea with a sentinel that actually works.
type MinAccum struct {
	has bool
	min int64
}

func (a MinAccum) Add(o MinAccum) MinAccum {
	if !o.has {
		return a
	}
	if !a.has || o.min < a.min {
		return o
	}
	return a
}

// SSSPProgram computes single-source shortest paths with non-negative
// integer edge weights. Reachability is signalled by Dist >= 0; the source
// vertex must be seeded with Dist = 0 before the run starts and every other
// vertex with Dist = -1.
type SSSPProgram struct{}

func (p *SSSPProgram) GatherEdges(v *graph.VertexView[SSSPData, int64]) vprog.EdgeDirection {
	return vprog.InEdges
}

func (p *SSSPProgram) Gather(v *graph.VertexView[SSSPData, int64], e *graph.Edge[int64], far *graph.VertexView[SSSPData, int64]) MinAccum {
	if far.Data().Dist < 0 {
		return MinAccum{}
	}
	return MinAccum{has: true, min: far.Data().Dist + e.Data}
}

func (p *SSSPProgram) Apply(v *graph.VertexView[SSSPData, int64], accum MinAccum, ctx *vprog.Context[SSSPData, int64, MinAccum]) {
	if accum.has && (v.Data().Dist < 0 || accum.min < v.Data().Dist) {
		v.Data().Dist = accum.min
		v.Data().dirty = true
	} else {
		v.Data().dirty = false
	}
}

func (p *SSSPProgram) ScatterEdges(v *graph.VertexView[SSSPData, int64]) vprog.EdgeDirection {
	if v.Data().dirty {
		return vprog.OutEdges
	}
	return vprog.NoEdges
}

func (p *SSSPProgram) Scatter(v *graph.VertexView[SSSPData, int64], e *graph.Edge[int64], far *graph.VertexView[SSSPData, int64], ctx *vprog.Context[SSSPData, int64, MinAccum]) {
	ctx.Signal(far.ID())
}
