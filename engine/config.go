package engine

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Config configures one Engine run. Zero-value fields that have a sensible
// default are filled in by validate; fields with no sensible default turn
// into a hard failure aggregated into the returned multierror, the same
// pattern pagerank.Config.validate uses.
type Config struct {
	// EnableCaching turns on the per-vertex gather cache and the PostDelta
	// fast path. Off by default.
	EnableCaching bool

	// LoadAheadDistance is the prefetch pipeline depth L: how many edges
	// ahead of the one currently being gathered/scattered get prefetched.
	// Zero is a valid boundary: no prefetches are issued and correctness is
	// unaffected, only the look-ahead optimization is disabled. Must be >= 0.
	LoadAheadDistance int

	// NumThreads is the worker pool size Engine.Start spins up. Defaults to
	// 1 if left at zero.
	NumThreads int

	// SPMSize is the scratchpad's byte capacity. Must be > 0.
	SPMSize int

	// Logger is the structured logging sink. Defaults to a Logger that
	// discards output.
	Logger *logrus.Entry

	// Clock is the time source handed to vertex-program Contexts. Defaults
	// to clock.WallClock.
	Clock clock.Clock
}

func (c *Config) validate() error {
	var err error

	if c.LoadAheadDistance < 0 {
		err = multierror.Append(err, fmt.Errorf("LoadAheadDistance must be >= 0"))
	}
	if c.SPMSize <= 0 {
		err = multierror.Append(err, fmt.Errorf("SPMSize must be > 0"))
	}
	if c.NumThreads <= 0 {
		c.NumThreads = 1
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}
