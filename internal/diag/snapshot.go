// Package diag serializes a point-in-time report of a running engine's
// scratchpad occupancy for cmd/spmdiag, compressing it the way
// internal/compression's block codecs compress an on-disk column block.
package diag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/asyncgas/engine/internal/compression"
	"github.com/asyncgas/engine/internal/spm"
)

// Report is the JSON-serializable shape of one scratchpad snapshot.
type Report struct {
	TakenAt         time.Time `json:"taken_at"`
	RunID           string    `json:"run_id,omitempty"`
	DeviceSize      int       `json:"device_size_bytes"`
	VertexSlabStart int       `json:"vertex_slab_start"`
	VertexSlabEnd   int       `json:"vertex_slab_end"`
	EdgeSlabEnd     int       `json:"edge_slab_end"`
	LiveVertexSlots int       `json:"live_vertex_slots"`
	LiveEdgeSlots   int       `json:"live_edge_slots"`
	FreeVertexSlots int       `json:"free_vertex_slots"`
	FreeEdgeSlots   int       `json:"free_edge_slots"`
	SPMHits         int64     `json:"spm_hits"`
	SPMMisses       int64     `json:"spm_misses"`
	NumFailedLoads  int64     `json:"num_failed_loads"`
}

// BuildReport reads mgr's current snapshot and stamps it with takenAt and
// runID. takenAt is a caller-supplied timestamp since this package never
// calls time.Now() itself, matching the rest of the module's avoidance of
// ambient clocks outside vprog.Context.
func BuildReport(mgr interface {
	Snapshot() spm.Snapshot
}, runID string, takenAt time.Time) Report {
	s := mgr.Snapshot()
	return Report{
		TakenAt:         takenAt,
		RunID:           runID,
		DeviceSize:      s.DeviceSize,
		VertexSlabStart: s.VertexSlabStart,
		VertexSlabEnd:   s.VertexSlabEnd,
		EdgeSlabEnd:     s.EdgeSlabEnd,
		LiveVertexSlots: s.LiveVertexSlots,
		LiveEdgeSlots:   s.LiveEdgeSlots,
		FreeVertexSlots: s.FreeVertexSlots,
		FreeEdgeSlots:   s.FreeEdgeSlots,
		SPMHits:         s.Counters.SPMHits,
		SPMMisses:       s.Counters.SPMMisses,
		NumFailedLoads:  s.Counters.NumFailedLoads,
	}
}

// EncodeCompressed marshals r to JSON and wraps it in a single
// compression-codec block, the same wire format internal/compression's
// callers use for a column block: a method byte, size header, then payload.
func EncodeCompressed(r Report, codec compression.Codec) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostic report: %w", err)
	}
	block, err := compression.CompressBlock(codec, payload)
	if err != nil {
		return nil, fmt.Errorf("compress diagnostic report: %w", err)
	}
	return block, nil
}

// DecodeCompressed reverses EncodeCompressed.
func DecodeCompressed(block []byte) (Report, error) {
	payload, err := compression.DecompressBlock(block)
	if err != nil {
		return Report{}, fmt.Errorf("decompress diagnostic report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return Report{}, fmt.Errorf("unmarshal diagnostic report: %w", err)
	}
	return r, nil
}
