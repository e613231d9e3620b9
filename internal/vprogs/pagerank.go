// Package vprogs supplies two reference vertex programs, PageRank and SSSP,
// translated from the original GraphLab-style sample programs into the
// explicit-far-vertex vprog.VertexProgram contract.
package vprogs

import (
	"math"

	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/vprog"
)

// PageRankData is one vertex's PageRank state: the current rank estimate
// and the delta the last Apply produced, which Scatter needs to distribute
// to out-neighbours. Delta lives on the vertex rather than as a field on
// PageRankProgram because one PageRankProgram value is shared by every
// goroutine running a vertex concurrently; per-vertex mutable state has to
// live in the vertex's own data, not in the program object.
type PageRankData struct {
	Rank  float64
	Delta float64
}

// RankAccum is the PageRank gather accumulator: the sum of in-neighbours'
// rank/out-degree contributions.
type RankAccum float64

// Add implements vprog.Monoid[RankAccum]; the zero value is the correct
// additive identity.
func (r RankAccum) Add(o RankAccum) RankAccum { return r + o }

// PageRankProgram implements the classic power-iteration PageRank update:
// rank(v) = teleport + damping * sum_{u in in(v)} rank(u)/outdegree(u).
type PageRankProgram struct {
	Damping              float64
	Teleport             float64
	ConvergenceThreshold float64
}

// NewPageRankProgram returns a program with the damping/teleport/threshold
// values the original sample program hard-coded (0.85, 0.15, 1e-3).
func NewPageRankProgram() *PageRankProgram {
	return &PageRankProgram{Damping: 0.85, Teleport: 0.15, ConvergenceThreshold: 1e-3}
}

func (p *PageRankProgram) GatherEdges(v *graph.VertexView[PageRankData, struct{}]) vprog.EdgeDirection {
	return vprog.InEdges
}

func (p *PageRankProgram) Gather(v *graph.VertexView[PageRankData, struct{}], e *graph.Edge[struct{}], far *graph.VertexView[PageRankData, struct{}]) RankAccum {
	outDeg := far.NumOutEdges()
	if outDeg == 0 {
		return 0
	}
	return RankAccum(far.Data().Rank / float64(outDeg))
}

func (p *PageRankProgram) Apply(v *graph.VertexView[PageRankData, struct{}], accum RankAccum, ctx *vprog.Context[PageRankData, struct{}, RankAccum]) {
	prev := v.Data().Rank
	newRank := float64(accum)*p.Damping + p.Teleport
	v.Data().Rank = newRank
	v.Data().Delta = newRank - prev
}

func (p *PageRankProgram) ScatterEdges(v *graph.VertexView[PageRankData, struct{}]) vprog.EdgeDirection {
	return vprog.OutEdges
}

func (p *PageRankProgram) Scatter(v *graph.VertexView[PageRankData, struct{}], e *graph.Edge[struct{}], far *graph.VertexView[PageRankData, struct{}], ctx *vprog.Context[PageRankData, struct{}, RankAccum]) {
	outDeg := v.NumOutEdges()
	if outDeg == 0 {
		return
	}
	delta := v.Data().Delta
	ctx.PostDelta(far.ID(), RankAccum(delta/float64(outDeg)))
	if math.Abs(delta) > p.ConvergenceThreshold {
		ctx.Signal(far.ID())
	}
}
