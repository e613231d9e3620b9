// Package vprog defines the capability contract a vertex program must
// satisfy to run under the GAS executor, and the context object that contract
// is invoked with.
package vprog

import "github.com/asyncgas/engine/internal/graph"

// Monoid stands in for the gather accumulator's C++ operator+=: Add must be
// commutative and associative, and the type's zero value must be the
// identity element. Neither property is checked by the compiler; the GAS
// executor relies on callers honoring it (see internal/gasexec).
type Monoid[G any] interface {
	Add(G) G
}

// VertexProgram is the capability set spec.md §4.4 requires: no base class,
// just the five operations the executor calls during gather/apply/scatter.
// G is the gather accumulator type and must be a Monoid[G].
type VertexProgram[VD, ED any, G Monoid[G]] interface {
	// GatherEdges selects which edges Gather visits for v.
	GatherEdges(v *graph.VertexView[VD, ED]) EdgeDirection
	// Gather produces one edge's contribution to the accumulator. far is the
	// vertex at the edge's other endpoint (resolved by the executor, the Go
	// analogue of the original's edge.source()/edge.target() accessors).
	Gather(v *graph.VertexView[VD, ED], e *graph.Edge[ED], far *graph.VertexView[VD, ED]) G
	// Apply is the only phase permitted to mutate v's data.
	Apply(v *graph.VertexView[VD, ED], accum G, ctx *Context[VD, ED, G])
	// ScatterEdges selects which edges Scatter visits for v.
	ScatterEdges(v *graph.VertexView[VD, ED]) EdgeDirection
	// Scatter may mutate e's and far's data and signal neighbours through ctx.
	Scatter(v *graph.VertexView[VD, ED], e *graph.Edge[ED], far *graph.VertexView[VD, ED], ctx *Context[VD, ED, G])
}
