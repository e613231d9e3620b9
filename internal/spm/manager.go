package spm

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// ErrCapacityExhausted names the condition behind a false return from
// LoadVertexData/LoadEdgeData once both slabs are full and compaction cannot
// make room: the caller proceeds without the prefetch rather than blocking,
// so this is never actually returned as an error value, only counted via
// NumFailedLoads.
var ErrCapacityExhausted = errors.New("spm: capacity exhausted")

// ErrAccessMiss names the condition behind a false/zero return from
// ReadVertexData/WriteVertexData/ReadEdgeData/WriteEdgeData when the
// requested pointer is not currently resident.
var ErrAccessMiss = errors.New("spm: access miss")

// addrTag is the scratchpad's notion of a "main-memory address": the stable
// pointer identity of the live value a slot mirrors. Zero is the reserved
// empty-marker. Deriving it via uintptr(unsafe.Pointer(ptr)) is the same
// address-as-integer trick the example pack's lock-free queue/ring
// implementations use for slot identity (see e.g. compactqueue128), applied
// here to vertex/edge payload pointers instead of arena slots.
type addrTag uintptr

func tagOf[T any](ptr *T) addrTag { return addrTag(uintptr(unsafe.Pointer(ptr))) }

const (
	wordSize = WordSize

	addrVSlabEnd   = 0
	addrVEmptyHead = wordSize
	addrESlabEnd   = 2 * wordSize
	addrEEmptyHead = 3 * wordSize

	vslabStart = 4 * wordSize

	// Each slot is a tag word followed by a link/scratch word. The actual
	// generic payload is mirrored in a side table keyed by slot address
	// (see vSlot/eSlot below) rather than serialized into the byte device,
	// since VD/ED are arbitrary Go types without a fixed wire size; the
	// word-level geometry (slab bounds, free lists, tags) that spec.md's
	// invariants are actually stated over is still carried entirely by the
	// Device.
	vSlotSize = 2 * wordSize
	eSlotSize = 2 * wordSize
)

// Counters are the observability counters spec.md §6 requires: SPMHits and
// SPMMisses are driven by callers via RecordHit/RecordMiss (the engine checks
// residency before gather/scatter touches data), NumFailedLoads increments
// when a Load* finds no room; a Load* that returns false because the data is
// already resident is not counted.
type Counters struct {
	SPMHits        int64
	SPMMisses      int64
	NumFailedLoads int64
}

// Manager is the two-slab scratchpad allocator (C3): a vertex-data slab
// growing up from vslabStart and an edge-data slab growing down from the top
// of the device, with free lists and cross-slab compaction. VD and ED are the
// same vertex/edge payload types the owning graph.Graph uses.
type Manager[VD, ED any] struct {
	dev *Device

	vslabMu      sync.Mutex
	eslabMu      sync.Mutex
	vslotRelocMu sync.Mutex
	eslotRelocMu sync.Mutex

	vPayload map[addrTag]VD
	ePayload map[addrTag]ED

	spmHits        atomic.Int64
	spmMisses      atomic.Int64
	numFailedLoads atomic.Int64

	log *logrus.Entry
}

// NewManager creates a Manager backed by a Device of the given byte capacity.
func NewManager[VD, ED any](spmSize int, log *logrus.Entry) *Manager[VD, ED] {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dev := NewDevice(spmSize)
	_ = dev.WriteWord(addrVSlabEnd, Word(vslabStart))
	_ = dev.WriteWord(addrVEmptyHead, 0)
	_ = dev.WriteWord(addrESlabEnd, Word(spmSize-eSlotSize))
	_ = dev.WriteWord(addrEEmptyHead, 0)
	return &Manager[VD, ED]{
		dev:      dev,
		vPayload: make(map[addrTag]VD),
		ePayload: make(map[addrTag]ED),
		log:      log,
	}
}

// Counters returns a snapshot of the observability counters.
func (m *Manager[VD, ED]) Counters() Counters {
	return Counters{
		SPMHits:        m.spmHits.Load(),
		SPMMisses:      m.spmMisses.Load(),
		NumFailedLoads: m.numFailedLoads.Load(),
	}
}

// RecordHit/RecordMiss let the GAS executor report whether a gather/scatter
// step found its edge or vertex data resident, per spec.md's check_spm_hit.
func (m *Manager[VD, ED]) RecordHit()  { m.spmHits.Add(1) }
func (m *Manager[VD, ED]) RecordMiss() { m.spmMisses.Add(1) }

// Snapshot is a point-in-time report of the scratchpad's slab geometry and
// occupancy, for internal/diag to serialize.
type Snapshot struct {
	DeviceSize      int
	VertexSlabStart int
	VertexSlabEnd   int
	EdgeSlabEnd     int
	LiveVertexSlots int
	LiveEdgeSlots   int
	FreeVertexSlots int
	FreeEdgeSlots   int
	Counters        Counters
}

// Snapshot reports the scratchpad's current slab boundaries, free-list
// lengths, and counters without mutating any state.
func (m *Manager[VD, ED]) Snapshot() Snapshot {
	m.vslabMu.Lock()
	defer m.vslabMu.Unlock()
	m.eslabMu.Lock()
	defer m.eslabMu.Unlock()

	vEnd, _ := m.dev.ReadWord(addrVSlabEnd)
	eEnd, _ := m.dev.ReadWord(addrESlabEnd)
	freeV := m.freeListLen(addrVEmptyHead)
	freeE := m.freeListLen(addrEEmptyHead)
	allocatedV := (int(vEnd) - vslabStart) / vSlotSize
	allocatedE := (m.dev.Size() - eSlotSize - int(eEnd)) / eSlotSize

	return Snapshot{
		DeviceSize:      m.dev.Size(),
		VertexSlabStart: vslabStart,
		VertexSlabEnd:   int(vEnd),
		EdgeSlabEnd:     int(eEnd),
		LiveVertexSlots: allocatedV - freeV,
		LiveEdgeSlots:   allocatedE - freeE,
		FreeVertexSlots: freeV,
		FreeEdgeSlots:   freeE,
		Counters:        m.Counters(),
	}
}

// freeListLen walks the free list rooted at headAddr and returns its length.
func (m *Manager[VD, ED]) freeListLen(headAddr int) int {
	n := 0
	cur, _ := m.dev.ReadWord(headAddr)
	for cur != 0 {
		n++
		next, _ := m.dev.ReadWord(int(cur))
		cur = next
	}
	return n
}

// ---------------------------------------------------------------------------
// Vertex data
// ---------------------------------------------------------------------------

// LoadVertexData brings *ptr's current value into the scratchpad. It returns
// false if ptr is already resident (e.g. a doubly-connected neighbour loaded
// by an earlier edge) or if the scratchpad is genuinely full in both slabs.
func (m *Manager[VD, ED]) LoadVertexData(ptr *VD) bool {
	if m.findVData(tagOf(ptr)) != 0 {
		return false
	}

	m.vslabMu.Lock()
	defer m.vslabMu.Unlock()

	if head, _ := m.dev.ReadWord(addrVEmptyHead); head != 0 {
		next, _ := m.dev.ReadWord(int(head))
		_ = m.dev.WriteWord(addrVEmptyHead, next)
		m.writeVSlot(int(head), ptr)
		return true
	}

	end, _ := m.dev.ReadWord(addrVSlabEnd)
	eEnd, _ := m.dev.ReadWord(addrESlabEnd)
	if int(end)+vSlotSize <= int(eEnd)+eSlotSize {
		_ = m.dev.WriteWord(addrVSlabEnd, end+Word(vSlotSize))
		m.writeVSlot(int(end), ptr)
		return true
	}

	if m.compactEdgeSlabForVertexGrowth(int(end)) {
		m.writeVSlot(int(end), ptr)
		return true
	}

	m.numFailedLoads.Add(1)
	return false
}

// RemoveVertexData writes the slot's mirrored value back to *ptr and frees
// the slot. Returns false if ptr is not resident (an idempotent no-op, per
// spec.md's AccessMiss-adjacent CapacityExhausted/miss handling).
func (m *Manager[VD, ED]) RemoveVertexData(ptr *VD) bool {
	m.vslabMu.Lock()
	defer m.vslabMu.Unlock()

	tag := tagOf(ptr)
	addr := m.findVData(tag)
	if addr == 0 {
		return false
	}

	*ptr = m.vPayload[tag]
	delete(m.vPayload, tag)
	_ = m.dev.WriteWord(addr, 0)

	end, _ := m.dev.ReadWord(addrVSlabEnd)
	if addr+vSlotSize == int(end) {
		_ = m.dev.WriteWord(addrVSlabEnd, Word(addr))
	} else {
		head, _ := m.dev.ReadWord(addrVEmptyHead)
		_ = m.dev.WriteWord(addr+wordSize, head)
		_ = m.dev.WriteWord(addrVEmptyHead, Word(addr))
	}
	return true
}

// ReadVertexData returns the resident mirror of *ptr, if any.
func (m *Manager[VD, ED]) ReadVertexData(ptr *VD) (VD, bool) {
	m.vslotRelocMu.Lock()
	defer m.vslotRelocMu.Unlock()

	tag := tagOf(ptr)
	if m.findVData(tag) == 0 {
		var zero VD
		return zero, false
	}
	return m.vPayload[tag], true
}

// WriteVertexData overwrites the resident mirror of *ptr without touching
// main memory. Returns false if ptr is not resident.
func (m *Manager[VD, ED]) WriteVertexData(ptr *VD, val VD) bool {
	m.vslotRelocMu.Lock()
	defer m.vslotRelocMu.Unlock()

	tag := tagOf(ptr)
	if m.findVData(tag) == 0 {
		return false
	}
	m.vPayload[tag] = val
	return true
}

// findVData linearly scans the live region of the vertex slab for tag,
// returning its slot address or 0.
func (m *Manager[VD, ED]) findVData(tag addrTag) int {
	if tag == 0 {
		return 0
	}
	end, _ := m.dev.ReadWord(addrVSlabEnd)
	for cur := vslabStart; cur < int(end); cur += vSlotSize {
		w, _ := m.dev.ReadWord(cur)
		if addrTag(w) == tag {
			return cur
		}
	}
	return 0
}

func (m *Manager[VD, ED]) writeVSlot(addr int, ptr *VD) {
	tag := tagOf(ptr)
	_ = m.dev.WriteWord(addr, Word(tag))
	m.vPayload[tag] = *ptr
}

// ---------------------------------------------------------------------------
// Edge data
// ---------------------------------------------------------------------------

// LoadEdgeData is the edge-slab mirror of LoadVertexData.
func (m *Manager[VD, ED]) LoadEdgeData(ptr *ED) bool {
	if m.findEData(tagOf(ptr)) != 0 {
		return false
	}

	m.eslabMu.Lock()
	defer m.eslabMu.Unlock()

	if head, _ := m.dev.ReadWord(addrEEmptyHead); head != 0 {
		next, _ := m.dev.ReadWord(int(head))
		_ = m.dev.WriteWord(addrEEmptyHead, next)
		m.writeESlot(int(head), ptr)
		return true
	}

	end, _ := m.dev.ReadWord(addrESlabEnd)
	vEnd, _ := m.dev.ReadWord(addrVSlabEnd)
	if int(end)-eSlotSize >= int(vEnd) {
		_ = m.dev.WriteWord(addrESlabEnd, end-Word(eSlotSize))
		m.writeESlot(int(end), ptr)
		return true
	}

	if m.compactVertexSlabForEdgeGrowth(int(end)) {
		m.writeESlot(int(end), ptr)
		return true
	}

	m.numFailedLoads.Add(1)
	return false
}

// RemoveEdgeData is the edge-slab mirror of RemoveVertexData.
func (m *Manager[VD, ED]) RemoveEdgeData(ptr *ED) bool {
	m.eslabMu.Lock()
	defer m.eslabMu.Unlock()

	tag := tagOf(ptr)
	addr := m.findEData(tag)
	if addr == 0 {
		return false
	}

	*ptr = m.ePayload[tag]
	delete(m.ePayload, tag)
	_ = m.dev.WriteWord(addr, 0)

	end, _ := m.dev.ReadWord(addrESlabEnd)
	if addr-eSlotSize == int(end) {
		_ = m.dev.WriteWord(addrESlabEnd, Word(addr))
	} else {
		head, _ := m.dev.ReadWord(addrEEmptyHead)
		_ = m.dev.WriteWord(addr+wordSize, head)
		_ = m.dev.WriteWord(addrEEmptyHead, Word(addr))
	}
	return true
}

// ReadEdgeData is the edge-slab mirror of ReadVertexData.
func (m *Manager[VD, ED]) ReadEdgeData(ptr *ED) (ED, bool) {
	m.eslotRelocMu.Lock()
	defer m.eslotRelocMu.Unlock()

	tag := tagOf(ptr)
	if m.findEData(tag) == 0 {
		var zero ED
		return zero, false
	}
	return m.ePayload[tag], true
}

// WriteEdgeData is the edge-slab mirror of WriteVertexData.
func (m *Manager[VD, ED]) WriteEdgeData(ptr *ED, val ED) bool {
	m.eslotRelocMu.Lock()
	defer m.eslotRelocMu.Unlock()

	tag := tagOf(ptr)
	if m.findEData(tag) == 0 {
		return false
	}
	m.ePayload[tag] = val
	return true
}

func (m *Manager[VD, ED]) findEData(tag addrTag) int {
	if tag == 0 {
		return 0
	}
	end, _ := m.dev.ReadWord(addrESlabEnd)
	top := m.dev.Size() - eSlotSize
	for cur := top; cur > int(end); cur -= eSlotSize {
		w, _ := m.dev.ReadWord(cur)
		if addrTag(w) == tag {
			return cur
		}
	}
	return 0
}

func (m *Manager[VD, ED]) writeESlot(addr int, ptr *ED) {
	tag := tagOf(ptr)
	_ = m.dev.WriteWord(addr, Word(tag))
	m.ePayload[tag] = *ptr
}

// ---------------------------------------------------------------------------
// Cross-slab compaction
// ---------------------------------------------------------------------------

// compactEdgeSlabForVertexGrowth reclaims exactly one edge-slab slot so that a
// new vertex slot can be written at vEndBefore (the vertex slab's boundary
// before this call). Caller holds vslabMu. Returns false if the edge slab has
// no free slot to reclaim (both slabs are genuinely full).
func (m *Manager[VD, ED]) compactEdgeSlabForVertexGrowth(vEndBefore int) bool {
	m.eslabMu.Lock()
	defer m.eslabMu.Unlock()
	m.eslotRelocMu.Lock()
	defer m.eslotRelocMu.Unlock()

	eEmptyHead, _ := m.dev.ReadWord(addrEEmptyHead)
	if eEmptyHead == 0 {
		return false
	}

	eEnd, _ := m.dev.ReadWord(addrESlabEnd)
	lastSlot := int(eEnd) + eSlotSize

	lastTag, _ := m.dev.ReadWord(lastSlot)
	if lastTag != 0 {
		// lastSlot holds live data: pop a free slot and relocate it there.
		head := int(eEmptyHead)
		next, _ := m.dev.ReadWord(head)
		_ = m.dev.WriteWord(addrEEmptyHead, next)

		// The payload map is keyed by tag (address), not slot location, so
		// relocating the slot is just moving its tag word; no payload copy.
		_ = m.dev.WriteWord(head, lastTag)
		_ = m.dev.WriteWord(lastSlot, 0)
	} else {
		// lastSlot is itself empty: splice it out of the free list instead
		// of relocating anything into it (there's nothing live to move).
		if !m.spliceEdgeFreeSlot(lastSlot) {
			// Should be unreachable: a slot with tag==0 inside the slab's
			// allocated extent must be threaded into the free list.
			return false
		}
	}

	_ = m.dev.WriteWord(addrESlabEnd, Word(lastSlot))
	_ = m.dev.WriteWord(addrVSlabEnd, Word(vEndBefore+vSlotSize))
	return true
}

// spliceEdgeFreeSlot removes addr from the edge empty-slot free list,
// whether it is the head or a mid-list node (the fix for the head-of-list
// case spec.md §9 calls out).
func (m *Manager[VD, ED]) spliceEdgeFreeSlot(addr int) bool {
	head, _ := m.dev.ReadWord(addrEEmptyHead)
	if int(head) == addr {
		next, _ := m.dev.ReadWord(addr)
		_ = m.dev.WriteWord(addrEEmptyHead, next)
		return true
	}
	parent := int(head)
	for parent != 0 {
		next, _ := m.dev.ReadWord(parent)
		if int(next) == addr {
			target, _ := m.dev.ReadWord(addr)
			_ = m.dev.WriteWord(parent, target)
			return true
		}
		parent = int(next)
	}
	return false
}

// compactVertexSlabForEdgeGrowth is the mirror image of
// compactEdgeSlabForVertexGrowth, run when the edge slab needs room and the
// vertex slab has a hole to give up. Caller holds eslabMu.
func (m *Manager[VD, ED]) compactVertexSlabForEdgeGrowth(eEndBefore int) bool {
	m.vslabMu.Lock()
	defer m.vslabMu.Unlock()
	m.vslotRelocMu.Lock()
	defer m.vslotRelocMu.Unlock()

	vEmptyHead, _ := m.dev.ReadWord(addrVEmptyHead)
	if vEmptyHead == 0 {
		return false
	}

	vEnd, _ := m.dev.ReadWord(addrVSlabEnd)
	lastSlot := int(vEnd) - vSlotSize

	lastTag, _ := m.dev.ReadWord(lastSlot)
	if lastTag != 0 {
		head := int(vEmptyHead)
		next, _ := m.dev.ReadWord(head)
		_ = m.dev.WriteWord(addrVEmptyHead, next)

		_ = m.dev.WriteWord(head, lastTag)
		_ = m.dev.WriteWord(lastSlot, 0)
	} else {
		if !m.spliceVertexFreeSlot(lastSlot) {
			return false
		}
	}

	_ = m.dev.WriteWord(addrVSlabEnd, Word(lastSlot))
	_ = m.dev.WriteWord(addrESlabEnd, Word(eEndBefore-eSlotSize))
	return true
}

func (m *Manager[VD, ED]) spliceVertexFreeSlot(addr int) bool {
	head, _ := m.dev.ReadWord(addrVEmptyHead)
	if int(head) == addr {
		next, _ := m.dev.ReadWord(addr)
		_ = m.dev.WriteWord(addrVEmptyHead, next)
		return true
	}
	parent := int(head)
	for parent != 0 {
		next, _ := m.dev.ReadWord(parent)
		if int(next) == addr {
			target, _ := m.dev.ReadWord(addr)
			_ = m.dev.WriteWord(parent, target)
			return true
		}
		parent = int(next)
	}
	return false
}
