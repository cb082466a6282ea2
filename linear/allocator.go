package linear

import (
	"context"
	"math"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
	"github.com/wippyai/nativehandle/linear/internal/layout"
	"github.com/wippyai/nativehandle/linear/internal/wasmbin"
)

// reservedBytes keeps the lowest addresses out of the allocator so that
// no allocation is ever returned at address 0.
const reservedBytes = 8

// FreeList is a first-fit allocator over linear memory managed from Go.
// Freed blocks are coalesced with their neighbours, and memory grows by
// whole pages when the free list cannot satisfy a request.
// Not safe for concurrent use.
type FreeList struct {
	mem   api.Memory
	free  []block // sorted by ptr, never adjacent
	top   uint32
	inUse uint32
}

type block struct {
	ptr  uint32
	size uint32
}

var _ nativehandle.Allocator = (*FreeList)(nil)

// NewFreeList manages mem starting at base. A base below the reserved
// prefix is raised to it.
func NewFreeList(mem api.Memory, base uint32) *FreeList {
	if base < reservedBytes {
		base = reservedBytes
	}
	return &FreeList{mem: mem, top: base}
}

// Alloc returns a block of size bytes aligned to align.
func (a *FreeList) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		return 0, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Detail("zero-size allocation").
			Build()
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Detail("alignment %d is not a power of two", align).
			Build()
	}

	for i, b := range a.free {
		start := layout.AlignTo(b.ptr, align)
		end := uint64(start) + uint64(size)
		if start < b.ptr || end > uint64(b.ptr)+uint64(b.size) {
			continue
		}

		var rest []block
		if start > b.ptr {
			rest = append(rest, block{ptr: b.ptr, size: start - b.ptr})
		}
		if tail := b.ptr + b.size - uint32(end); tail > 0 {
			rest = append(rest, block{ptr: uint32(end), size: tail})
		}
		a.free = slices.Replace(a.free, i, i+1, rest...)
		a.inUse += size
		return start, nil
	}

	start := layout.AlignTo(a.top, align)
	end := uint64(start) + uint64(size)
	if start < a.top || end > math.MaxUint32 {
		return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align)
	}
	if err := a.ensure(uint32(end)); err != nil {
		return 0, err
	}

	if start > a.top {
		a.insert(block{ptr: a.top, size: start - a.top})
	}
	a.top = uint32(end)
	a.inUse += size
	return start, nil
}

// Free returns a block to the free list.
func (a *FreeList) Free(ptr, size, _ uint32) {
	if ptr == 0 || size == 0 {
		return
	}
	a.inUse -= size
	a.insert(block{ptr: ptr, size: size})

	// Give the tail back to the bump pointer.
	if n := len(a.free); n > 0 {
		last := a.free[n-1]
		if last.ptr+last.size == a.top {
			a.top = last.ptr
			a.free = a.free[:n-1]
		}
	}
}

// InUse returns the number of bytes currently allocated.
func (a *FreeList) InUse() uint32 {
	return a.inUse
}

// FreeBlocks returns the number of free-list entries.
func (a *FreeList) FreeBlocks() int {
	return len(a.free)
}

func (a *FreeList) insert(b block) {
	i, _ := slices.BinarySearchFunc(a.free, b.ptr, func(x block, ptr uint32) int {
		switch {
		case x.ptr < ptr:
			return -1
		case x.ptr > ptr:
			return 1
		default:
			return 0
		}
	})
	a.free = slices.Insert(a.free, i, b)

	if i+1 < len(a.free) && a.free[i].ptr+a.free[i].size == a.free[i+1].ptr {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].ptr+a.free[i-1].size == a.free[i].ptr {
		a.free[i-1].size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
}

func (a *FreeList) ensure(end uint32) error {
	size := a.mem.Size()
	if end <= size {
		return nil
	}

	pages := (end - size + wasmbin.PageSize - 1) / wasmbin.PageSize
	prev, ok := a.mem.Grow(pages)
	if !ok {
		return errors.New(errors.PhaseAllocate, errors.KindAllocation).
			Detail("cannot grow memory by %d pages", pages).
			Build()
	}
	Logger().Debug("grew linear memory",
		zap.Uint32("from_pages", prev),
		zap.Uint32("to_pages", prev+pages))
	return nil
}

// GuestAllocator adapts a guest's cabi_realloc export to nativehandle.Allocator.
type GuestAllocator struct {
	Ctx context.Context
	Fn  api.Function
}

var _ nativehandle.Allocator = (*GuestAllocator)(nil)

// Alloc allocates memory using cabi_realloc.
func (a *GuestAllocator) Alloc(size, align uint32) (uint32, error) {
	results, err := a.Fn.Call(a.Ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseAllocate, errors.KindAllocation, err, "cabi_realloc trapped")
	}
	if len(results) == 0 {
		return 0, errors.New(errors.PhaseAllocate, errors.KindAllocation).
			Detail("cabi_realloc returned no result").
			Build()
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align)
	}
	return ptr, nil
}

// Free deallocates memory using cabi_realloc.
func (a *GuestAllocator) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	if _, err := a.Fn.Call(a.Ctx, uint64(ptr), uint64(size), uint64(align), 0); err != nil {
		Logger().Debug("cabi_realloc free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}
