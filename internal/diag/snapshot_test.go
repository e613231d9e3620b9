package diag_test

import (
	"testing"
	"time"

	"github.com/asyncgas/engine/internal/compression"
	"github.com/asyncgas/engine/internal/diag"
	"github.com/asyncgas/engine/internal/spm"
)

func TestBuildReportAndRoundTripThroughCompression(t *testing.T) {
	mgr := spm.NewManager[int, int](4096, nil)
	v := 7
	if !mgr.LoadVertexData(&v) {
		t.Fatal("LoadVertexData failed")
	}

	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := diag.BuildReport(mgr, "run-123", when)
	if report.LiveVertexSlots != 1 {
		t.Fatalf("expected 1 live vertex slot, got %d", report.LiveVertexSlots)
	}
	if report.RunID != "run-123" || !report.TakenAt.Equal(when) {
		t.Fatal("expected report to carry the supplied run id and timestamp")
	}

	block, err := diag.EncodeCompressed(report, &compression.LZ4Codec{})
	if err != nil {
		t.Fatalf("EncodeCompressed failed: %v", err)
	}
	got, err := diag.DecodeCompressed(block)
	if err != nil {
		t.Fatalf("DecodeCompressed failed: %v", err)
	}
	if got.LiveVertexSlots != report.LiveVertexSlots || got.RunID != report.RunID {
		t.Fatalf("expected round-tripped report to match original, got %+v", got)
	}
}
