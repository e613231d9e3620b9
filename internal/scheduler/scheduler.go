// Package scheduler implements the dining-philosophers-style neighbourhood
// exclusion protocol that lets a fixed worker pool drive an active set of
// vertex ids to quiescence without two overlapping neighbourhoods ever
// running concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ErrInvariantViolation is raised when InternalSignal observes a vid in the
// Running state: a running vertex's closed neighbourhood is held exclusively
// by its own worker, so no other worker can ever legitimately scatter a
// signal into it. Seeing this means the neighbourhood-exclusion protocol
// itself has a bug, not the caller.
var ErrInvariantViolation = errors.New("scheduler: signalled a running vertex")

// VertexState is one of Free, Scheduled, or Running, exactly one of which
// holds for every vid at any instant.
type VertexState int

const (
	Free VertexState = iota
	Scheduled
	Running
)

func (s VertexState) String() string {
	switch s {
	case Free:
		return "Free"
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	default:
		return "VertexState(?)"
	}
}

// NeighboursFunc returns vid's open neighbourhood (in- and out-neighbours,
// excluding vid itself). The scheduler closes it by adding vid back in.
type NeighboursFunc func(vid int) []int

// Scheduler owns the active set, per-vid state, per-vid in-use flags, and the
// condition variables the worker pool blocks on. One instance is created per
// Engine run and is not reused across runs.
type Scheduler struct {
	mu         sync.Mutex
	cvNoJobs   *sync.Cond
	cvExclude  []*sync.Cond // one per vid, sharing mu
	neighbours NeighboursFunc

	active     map[int]struct{}
	states     []VertexState
	inUse      []bool
	numIdle    int
	numThreads int
	started    bool
}

// New creates a Scheduler over numVertices dense vertex ids, using
// neighbours to resolve a vid's closed neighbourhood for exclusion checks.
func New(numVertices int, neighbours NeighboursFunc) *Scheduler {
	s := &Scheduler{
		neighbours: neighbours,
		active:     make(map[int]struct{}),
		states:     make([]VertexState, numVertices),
		inUse:      make([]bool, numVertices),
		cvExclude:  make([]*sync.Cond, numVertices),
	}
	s.cvNoJobs = sync.NewCond(&s.mu)
	for i := range s.cvExclude {
		s.cvExclude[i] = sync.NewCond(&s.mu)
	}
	return s
}

// SignalAll seeds the active set with every vid in vids. Valid only before
// Start is called.
func (s *Scheduler) SignalAll(vids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: SignalAll called after Start")
	}
	for _, vid := range vids {
		s.internalSignalLocked(vid)
	}
}

// InternalSignal is the scheduler half of a vertex program's Signal context
// call: a no-op if vid is already active, enqueues vid if it is Free, and is
// a no-op (the running worker will see fresh data) if vid is Scheduled.
// Panics with ErrInvariantViolation if vid is Running.
func (s *Scheduler) InternalSignal(vid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internalSignalLocked(vid)
}

func (s *Scheduler) internalSignalLocked(vid int) {
	if _, ok := s.active[vid]; ok {
		return
	}
	switch s.states[vid] {
	case Free:
		s.active[vid] = struct{}{}
		s.cvNoJobs.Signal()
	case Scheduled:
		// Already claimed by a worker that hasn't started running yet; it
		// will observe current data once it does.
	case Running:
		panic(fmt.Errorf("%w: vid %d", ErrInvariantViolation, vid))
	}
}

// GetNextJob blocks until a vid is available, ctx is cancelled, or every
// worker has gone idle with an empty active set (termination). It returns
// false in the latter two cases.
func (s *Scheduler) GetNextJob(ctx context.Context) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numIdle++
	for len(s.active) == 0 && s.numIdle < s.numThreads {
		if ctx.Err() != nil {
			break
		}
		s.cvNoJobs.Wait()
	}
	if ctx.Err() != nil || len(s.active) == 0 {
		// Broadcast, not Signal: every other idle waiter's own loop
		// condition is now false too (numIdle did not decrease), so they
		// all fall through and exit the same way.
		s.cvNoJobs.Broadcast()
		return 0, false
	}

	var vid int
	for v := range s.active {
		vid = v
		break
	}
	delete(s.active, vid)
	s.states[vid] = Scheduled
	s.numIdle--
	return vid, true
}

// GetExclusiveAccess blocks until every vertex in vid's closed neighbourhood
// is free of any other worker's claim, then marks the whole neighbourhood
// in-use and vid Running.
func (s *Scheduler) GetExclusiveAccess(vid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nbhd := s.closedNeighbourhood(vid)
	for {
		blocker := s.firstBusyIn(nbhd)
		if blocker < 0 {
			break
		}
		s.cvExclude[blocker].Wait()
	}
	for _, w := range nbhd {
		s.inUse[w] = true
	}
	s.states[vid] = Running
}

func (s *Scheduler) firstBusyIn(nbhd []int) int {
	for _, w := range nbhd {
		if s.inUse[w] {
			return w
		}
	}
	return -1
}

// ReleaseExclusiveAccess frees vid's closed neighbourhood and wakes any
// worker waiting on one of its members.
func (s *Scheduler) ReleaseExclusiveAccess(vid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[vid] = Free
	for _, w := range s.closedNeighbourhood(vid) {
		s.inUse[w] = false
		s.cvExclude[w].Broadcast()
	}
}

func (s *Scheduler) closedNeighbourhood(vid int) []int {
	open := s.neighbours(vid)
	nbhd := make([]int, 0, len(open)+1)
	nbhd = append(nbhd, vid)
	nbhd = append(nbhd, open...)
	return nbhd
}

// State reports vid's current VertexState. Exposed for tests and for
// engine/server's observability endpoint.
func (s *Scheduler) State(vid int) VertexState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[vid]
}

// ActiveCount reports the size of the active set. Exposed for observability.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Start spins up numWorkers goroutines that loop GetNextJob ->
// GetExclusiveAccess -> runVertex -> ReleaseExclusiveAccess until
// termination, then blocks until they have all returned. ctx cancellation is
// honored between jobs; a panic inside runVertex is recovered and reported
// through the returned error rather than crashing the process, mirroring how
// a multi-service supervisor aggregates per-worker failures.
func (s *Scheduler) Start(ctx context.Context, numWorkers int, runVertex func(vid int)) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: Start called more than once")
	}
	s.started = true
	s.numThreads = numWorkers
	s.mu.Unlock()

	cancelWatch := make(chan struct{})
	defer close(cancelWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cvNoJobs.Broadcast()
			s.mu.Unlock()
		case <-cancelWatch:
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, numWorkers)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			current := -1
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("scheduler worker: %v", r)
					// Free what this worker held and count it as idle so the
					// remaining workers can still reach termination.
					if current >= 0 {
						s.ReleaseExclusiveAccess(current)
					}
					s.mu.Lock()
					s.numIdle++
					s.cvNoJobs.Broadcast()
					s.mu.Unlock()
				}
			}()
			for {
				vid, ok := s.GetNextJob(ctx)
				if !ok {
					return
				}
				s.GetExclusiveAccess(vid)
				current = vid
				runVertex(vid)
				current = -1
				s.ReleaseExclusiveAccess(vid)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var result error
	for err := range errCh {
		result = multierror.Append(result, err)
	}
	return result
}
