package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/asyncgas/engine/internal/compression"
	"github.com/asyncgas/engine/internal/diag"
)

func main() {
	mode := flag.String("mode", "decode", "decode an existing snapshot file, or selftest to emit a synthetic one")
	inPath := flag.String("in", "", "Path to a compressed snapshot block (decode mode)")
	outPath := flag.String("out", "", "Path to write a compressed snapshot block (selftest mode)")
	flag.Parse()

	switch *mode {
	case "decode":
		decode(*inPath)
	case "selftest":
		selftest(*outPath)
	default:
		log.Fatalf("unknown -mode %q (want decode or selftest)", *mode)
	}
}

func decode(inPath string) {
	if inPath == "" {
		log.Fatalf("missing required -in")
	}
	block, err := os.ReadFile(inPath)
	if err != nil {
		log.Fatalf("read snapshot file: %v", err)
	}
	report, err := diag.DecodeCompressed(block)
	if err != nil {
		log.Fatalf("decode snapshot: %v", err)
	}
	fmt.Printf("run_id=%s taken_at=%s\n", report.RunID, report.TakenAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("device_size=%d vertex_slab=[%d,%d) edge_slab_end=%d\n",
		report.DeviceSize, report.VertexSlabStart, report.VertexSlabEnd, report.EdgeSlabEnd)
	fmt.Printf("live_vertex_slots=%d free_vertex_slots=%d live_edge_slots=%d free_edge_slots=%d\n",
		report.LiveVertexSlots, report.FreeVertexSlots, report.LiveEdgeSlots, report.FreeEdgeSlots)
	fmt.Printf("spm_hits=%d spm_misses=%d num_failed_loads=%d\n",
		report.SPMHits, report.SPMMisses, report.NumFailedLoads)
}

// selftest writes a zero-occupancy snapshot report, useful for checking that
// a build's compression.LZ4Codec round-trips without wiring up a live engine.
func selftest(outPath string) {
	if outPath == "" {
		log.Fatalf("missing required -out")
	}
	report := diag.Report{}
	block, err := diag.EncodeCompressed(report, &compression.LZ4Codec{})
	if err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}
	if err := os.WriteFile(outPath, block, 0o644); err != nil {
		log.Fatalf("write snapshot file: %v", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(block), outPath)
}
