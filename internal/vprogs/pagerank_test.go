package vprogs_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/asyncgas/engine/engine"
	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/vprogs"
)

func TestPageRankConvergesOnThreeVertexGraph(t *testing.T) {
	g := graph.New[vprogs.PageRankData, struct{}]()
	for _, id := range []int{1, 2, 3} {
		if !g.AddVertex(id, vprogs.PageRankData{Rank: 1.0}) {
			t.Fatalf("AddVertex(%d) failed", id)
		}
	}
	edges := [][2]int{{1, 2}, {1, 3}, {2, 3}, {3, 2}}
	for _, e := range edges {
		if !g.AddEdge(e[0], e[1], struct{}{}) {
			t.Fatalf("AddEdge(%d,%d) failed", e[0], e[1])
		}
	}

	prog := vprogs.NewPageRankProgram()
	eng, err := engine.New[vprogs.PageRankData, struct{}, vprogs.RankAccum](g, prog, engine.Config{
		EnableCaching:     true,
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

	want := map[int]float64{1: 0.2588, 2: 0.6911, 3: 0.6912}
	const tolerance = 5e-3
	for id, expected := range want {
		v, ok := g.Vertex(id)
		if !ok {
			t.Fatalf("vertex %d missing", id)
		}
		got := v.Data().Rank
		if math.Abs(got-expected) > tolerance {
			t.Fatalf("vertex %d: expected rank within %v of %v, got %v", id, tolerance, expected, got)
		}
	}
}

func TestPageRankCachingOnAndOffConvergeToSameFixedPoint(t *testing.T) {
	buildGraph := func() *graph.Graph[vprogs.PageRankData, struct{}] {
		g := graph.New[vprogs.PageRankData, struct{}]()
		for _, id := range []int{1, 2, 3} {
			g.AddVertex(id, vprogs.PageRankData{Rank: 1.0})
		}
		for _, e := range [][2]int{{1, 2}, {1, 3}, {2, 3}, {3, 2}} {
			g.AddEdge(e[0], e[1], struct{}{})
		}
		return g
	}

	run := func(caching bool) map[int]float64 {
		g := buildGraph()
		prog := vprogs.NewPageRankProgram()
		eng, err := engine.New[vprogs.PageRankData, struct{}, vprogs.RankAccum](g, prog, engine.Config{
			EnableCaching:     caching,
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
		out := map[int]float64{}
		for _, id := range []int{1, 2, 3} {
			v, _ := g.Vertex(id)
			out[id] = v.Data().Rank
		}
		return out
	}

	off := run(false)
	on := run(true)
	const tolerance = 5e-3
	for id := range off {
		if math.Abs(off[id]-on[id]) > tolerance {
			t.Fatalf("vertex %d: caching on/off diverged: off=%v on=%v", id, off[id], on[id])
		}
	}
}
