package engine

import "errors"

// ErrCapabilityMismatch is returned by New when cfg fails validation: a
// construction-time failure, not a runtime one, since nothing about the
// graph or vertex program being malformed can be discovered by running a
// single vertex's gather/apply/scatter.
var ErrCapabilityMismatch = errors.New("engine: capability mismatch")
