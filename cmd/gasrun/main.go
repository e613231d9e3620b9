package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/asyncgas/engine/engine"
	"github.com/asyncgas/engine/internal/graph"
	"github.com/asyncgas/engine/internal/vprogs"
)

func main() {
	inputPath := flag.String("input", "", "Path to a whitespace-adjacency graph file")
	program := flag.String("program", "pagerank", "Vertex program to run: pagerank or sssp")
	source := flag.Int("source", 0, "Source vertex id (sssp only)")
	caching := flag.Bool("caching", true, "Enable the gather cache")
	lookAhead := flag.Int("look-ahead", 2, "Prefetch look-ahead distance")
	threads := flag.Int("threads", 4, "Worker thread count")
	spmSize := flag.Int("spm-size", 1<<20, "Scratchpad size in bytes")
	flag.Parse()

	if *inputPath == "" {
		log.Fatalf("missing required -input")
	}
	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("open input: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	cfg := engine.Config{
		EnableCaching:     *caching,
		LoadAheadDistance: *lookAhead,
		NumThreads:        *threads,
		SPMSize:           *spmSize,
	}

	switch *program {
	case "pagerank":
		runPageRank(ctx, f, cfg)
	case "sssp":
		runSSSP(ctx, f, cfg, *source)
	default:
		log.Fatalf("unknown -program %q (want pagerank or sssp)", *program)
	}
}

func runPageRank(ctx context.Context, f *os.File, cfg engine.Config) {
	g, err := graph.LoadAdjacencyList[vprogs.PageRankData, struct{}](f, 1,
		func(id int) vprogs.PageRankData { return vprogs.PageRankData{Rank: 1.0} },
		func(farTok, weightTok string) (struct{}, error) { return struct{}{}, nil },
	)
	if err != nil {
		log.Fatalf("load graph: %v", err)
	}

	prog := vprogs.NewPageRankProgram()
	eng, err := engine.New[vprogs.PageRankData, struct{}, vprogs.RankAccum](g, prog, cfg)
	if err != nil {
		log.Fatalf("construct engine: %v", err)
	}

	fmt.Printf("gasrun: pagerank over %d vertices\n", g.NumVertices())
	eng.SignalAll()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	for id := 0; id < g.NumVertices(); id++ {
		v, ok := g.Vertex(id)
		if !ok {
			continue
		}
		fmt.Printf("%d\t%.6f\n", id, v.Data().Rank)
	}
	printCounters(eng.Counters())
}

func runSSSP(ctx context.Context, f *os.File, cfg engine.Config, source int) {
	g, err := graph.LoadAdjacencyList[vprogs.SSSPData, int64](f, 2,
		func(id int) vprogs.SSSPData {
			if id == source {
				return vprogs.SSSPData{Dist: 0}
			}
			return vprogs.SSSPData{Dist: -1}
		},
		func(farTok, weightTok string) (int64, error) {
			w, err := strconv.ParseInt(weightTok, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid edge weight %q: %w", weightTok, err)
			}
			return w, nil
		},
	)
	if err != nil {
		log.Fatalf("load graph: %v", err)
	}

	prog := &vprogs.SSSPProgram{}
	eng, err := engine.New[vprogs.SSSPData, int64, vprogs.MinAccum](g, prog, cfg)
	if err != nil {
		log.Fatalf("construct engine: %v", err)
	}

	fmt.Printf("gasrun: sssp from vertex %d over %d vertices\n", source, g.NumVertices())
	eng.SignalAll()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	for id := 0; id < g.NumVertices(); id++ {
		v, ok := g.Vertex(id)
		if !ok {
			continue
		}
		fmt.Printf("%d\t%d\n", id, v.Data().Dist)
	}
	printCounters(eng.Counters())
}

func printCounters(c engine.Counters) {
	fmt.Printf("spm_hits=%d spm_misses=%d failed_loads=%d\n", c.SPMHits, c.SPMMisses, c.NumFailedLoads)
}
