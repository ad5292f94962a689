// Package arena implements the fixed-capacity bump allocator that hosts state
// surviving a hot reload.
//
// An Arena hands out 32-bit addresses inside a caller-supplied byte slice that
// is mapped at a known base address (for the host this is a window of the
// shared guest linear memory). Allocation never grows the arena, individual
// regions are never freed, and Reset reclaims everything at once.
//
// Misuse that indicates a programming defect (non power-of-two alignment,
// resizing an address that does not belong to the arena) panics with an
// *errors.Error of kind assertion instead of returning an error.
package arena

import (
	"unsafe"

	"github.com/wippyai/hotreload/errors"
)

// DefaultAlign is twice the native pointer width. Native means the host's,
// so it is 16 on 64-bit hosts even though guest pointers are 32-bit; that
// stays a multiple of every alignment a wasm32 guest needs.
const DefaultAlign = uint32(2 * unsafe.Sizeof(uintptr(0)))

// Arena is a linear allocator over a fixed window of memory.
// It is not safe for concurrent use.
type Arena struct {
	buf    []byte
	base   uint32
	offset uint32
}

// New creates an arena over buf, whose first byte lives at address base.
// base must be non-zero so that 0 can stand for "no allocation" and the
// window must not wrap the 32-bit address space.
func New(buf []byte, base uint32) *Arena {
	if base == 0 {
		panic(errors.Assertion("arena base address must be non-zero"))
	}
	if uint64(base)+uint64(len(buf)) > 1<<32 {
		panic(errors.Assertion("arena [%#x, +%d) overflows the address space", base, len(buf)))
	}
	return &Arena{buf: buf, base: base}
}

// Base returns the address of the first arena byte.
func (a *Arena) Base() uint32 { return a.base }

// Cap returns the total capacity in bytes.
func (a *Arena) Cap() uint32 { return uint32(len(a.buf)) }

// Offset returns the number of bytes consumed since the last reset,
// including alignment padding and abandoned regions.
func (a *Arena) Offset() uint32 { return a.offset }

// Contains reports whether addr lies inside [base, base+capacity).
func (a *Arena) Contains(addr uint32) bool {
	return addr >= a.base && uint64(addr) < uint64(a.base)+uint64(len(a.buf))
}

// Alloc allocates size zeroed bytes at DefaultAlign.
func (a *Arena) Alloc(size uint32) (uint32, error) {
	return a.AllocAligned(size, DefaultAlign)
}

// AllocAligned allocates size zeroed bytes whose address is a multiple of
// align. On exhaustion it returns an errors.ErrExhausted-matching error and
// leaves the arena untouched.
func (a *Arena) AllocAligned(size, align uint32) (uint32, error) {
	mustPowerOfTwo(align)

	start := alignForward(uint64(a.base)+uint64(a.offset), uint64(align)) - uint64(a.base)
	end := start + uint64(size)
	if end > uint64(len(a.buf)) {
		remaining := uint32(0)
		if start < uint64(len(a.buf)) {
			remaining = uint32(uint64(len(a.buf)) - start)
		}
		return 0, errors.Exhausted(size, align, remaining)
	}

	clear(a.buf[start:end])
	a.offset = uint32(end)
	return a.base + uint32(start), nil
}

// Resize moves an allocation to a region of newSize bytes at DefaultAlign.
func (a *Arena) Resize(old, oldSize, newSize uint32) (uint32, error) {
	return a.ResizeAligned(old, oldSize, newSize, DefaultAlign)
}

// ResizeAligned allocates a new region of newSize bytes and copies
// min(oldSize, newSize) bytes from old into it. The old region is abandoned
// until the next Reset. Equal sizes return old unchanged; a zero old address
// or size degrades to a plain allocation. Resizing an address outside the
// arena panics.
func (a *Arena) ResizeAligned(old, oldSize, newSize, align uint32) (uint32, error) {
	mustPowerOfTwo(align)

	if old == 0 || oldSize == 0 {
		return a.AllocAligned(newSize, align)
	}
	if newSize == oldSize {
		return old, nil
	}
	if !a.Contains(old) {
		panic(errors.Assertion("resize of %#x outside arena [%#x, %#x)", old, a.base, uint64(a.base)+uint64(len(a.buf))))
	}

	addr, err := a.AllocAligned(newSize, align)
	if err != nil {
		return 0, err
	}

	n := min(oldSize, newSize)
	src := old - a.base
	if uint64(src)+uint64(n) > uint64(len(a.buf)) {
		panic(errors.Assertion("resize source [%#x, +%d) runs past arena end", old, n))
	}
	dst := addr - a.base
	copy(a.buf[dst:dst+n], a.buf[src:src+n])
	return addr, nil
}

// Reset makes the whole capacity available again. Memory is not cleared and
// every address handed out before the reset is invalid.
func (a *Arena) Reset() {
	a.offset = 0
}

// Bytes returns the live view of [addr, addr+size). ok is false when the
// range is not fully inside the arena.
func (a *Arena) Bytes(addr, size uint32) ([]byte, bool) {
	if !a.Contains(addr) {
		return nil, false
	}
	start := uint64(addr - a.base)
	end := start + uint64(size)
	if end > uint64(len(a.buf)) {
		return nil, false
	}
	return a.buf[start:end:end], true
}

func mustPowerOfTwo(align uint32) {
	if align == 0 || align&(align-1) != 0 {
		panic(errors.Assertion("alignment %d is not a power of two", align))
	}
}

func alignForward(p, align uint64) uint64 {
	return (p + align - 1) &^ (align - 1)
}
