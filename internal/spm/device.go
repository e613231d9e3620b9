// Package spm models a fixed-size, word-addressable scratchpad memory and the
// two-slab allocator built on top of it: the software-managed prefetch
// substrate the GAS executor uses to hide main-memory latency behind the
// gather/apply/scatter pipeline.
package spm

import (
	"errors"
	"fmt"
)

// WordSize is the width, in bytes, of one scratchpad word. The reference
// implementation fixes this at the size of a 64-bit pointer/register.
const WordSize = 8

// ErrAlignment is returned when a scratchpad access is not word-aligned:
// spmAddr must be a multiple of WordSize, and size must be either <=
// WordSize or itself a multiple of WordSize. A Device treats this as fatal to
// the caller; the manager on top of it (Manager) never triggers it for
// well-formed slot arithmetic, so seeing it escape indicates a bug in the
// allocator, not in application code.
var ErrAlignment = errors.New("spm: misaligned access")

// Word is one scratchpad register-sized value. NonBlockingLoad/
// NonBlockingStore move runs of bytes wider than one word; tags and free-list
// links are always exactly one word. Manager keeps its generic payloads in a
// side table rather than in the Device (see manager.go).
type Word int64

// Device is the fixed-capacity byte array plus the small set of primitives a
// real scratchpad controller would expose: non-blocking bulk transfers,
// synchronous word load/store, and a barrier. For this reference engine
// "non-blocking" is modelled synchronously, per spec.md §4.2 — a real device
// would issue the transfer and let Barrier() block on completion.
type Device struct {
	bytes []byte
}

// NewDevice allocates a Device with the given byte capacity.
func NewDevice(size int) *Device {
	return &Device{bytes: make([]byte, size)}
}

// Size returns the device's total byte capacity.
func (d *Device) Size() int { return len(d.bytes) }

func checkAlignment(spmAddr, size int) error {
	if spmAddr%WordSize != 0 {
		return fmt.Errorf("%w: spmAddr %d not a multiple of word size %d", ErrAlignment, spmAddr, WordSize)
	}
	if size > WordSize && size%WordSize != 0 {
		return fmt.Errorf("%w: size %d neither <= word size nor a word-size multiple", ErrAlignment, size)
	}
	return nil
}

// NonBlockingLoad copies size bytes from src into the scratchpad at spmAddr.
// Modelled synchronously; see Barrier.
func (d *Device) NonBlockingLoad(src []byte, spmAddr, size int) error {
	if err := checkAlignment(spmAddr, size); err != nil {
		return err
	}
	copy(d.bytes[spmAddr:spmAddr+size], src[:size])
	return nil
}

// NonBlockingStore copies size bytes from the scratchpad at spmAddr into dst.
// Modelled synchronously; see Barrier.
func (d *Device) NonBlockingStore(dst []byte, spmAddr, size int) error {
	if err := checkAlignment(spmAddr, size); err != nil {
		return err
	}
	copy(dst[:size], d.bytes[spmAddr:spmAddr+size])
	return nil
}

// ReadWord synchronously reads one word at spmAddr.
func (d *Device) ReadWord(spmAddr int) (Word, error) {
	if err := checkAlignment(spmAddr, WordSize); err != nil {
		return 0, err
	}
	return Word(le64(d.bytes[spmAddr : spmAddr+WordSize])), nil
}

// WriteWord synchronously writes one word at spmAddr.
func (d *Device) WriteWord(spmAddr int, w Word) error {
	if err := checkAlignment(spmAddr, WordSize); err != nil {
		return err
	}
	putLE64(d.bytes[spmAddr:spmAddr+WordSize], uint64(w))
	return nil
}

// Barrier waits for all outstanding non-blocking transfers to complete. The
// reference model is synchronous, so this is a no-op; a hardware-backed
// Device would suspend the calling goroutine here.
func (d *Device) Barrier() {}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
