package linear

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
	"github.com/wippyai/nativehandle/linear/internal/layout"
	"github.com/wippyai/nativehandle/linear/internal/wasmbin"
)

const (
	defaultMemoryExport  = "memory"
	defaultReallocExport = "cabi_realloc"
	defaultModuleName    = "records"

	maxStringSize = 1 << 30
)

// Config holds configuration for heap creation
type Config struct {
	// MemoryExport names the memory export of a loaded module. Default "memory".
	MemoryExport string

	// ReallocExport names the guest allocator export of a loaded module.
	// Default "cabi_realloc". If the module does not export it, records are
	// allocated by a Go-side free list in pages grown past the guest's data.
	ReallocExport string

	// ModuleName is the instance name inside the wazero runtime. Default "records".
	ModuleName string

	// InitialPages is the initial memory size of a generated module in
	// 64KiB pages. 0 means 1.
	InitialPages uint32

	// MemoryLimitPages caps memory growth in pages.
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.MemoryExport == "" {
		out.MemoryExport = defaultMemoryExport
	}
	if out.ReallocExport == "" {
		out.ReallocExport = defaultReallocExport
	}
	if out.ModuleName == "" {
		out.ModuleName = defaultModuleName
	}
	if out.InitialPages == 0 {
		out.InitialPages = 1
	}
	return out
}

// RecordType returns the WIT definition of a record as stored in memory:
//
//	record remote-resource-information {
//	    url: string,
//	    mime-type: string,
//	}
func RecordType() *wit.TypeDef {
	fields := make([]wit.Field, 0, len(nativehandle.Fields))
	for _, f := range nativehandle.Fields {
		fields = append(fields, wit.Field{Name: string(f), Type: wit.String{}})
	}
	return &wit.TypeDef{Kind: &wit.Record{Fields: fields}}
}

// Heap stores records in WebAssembly linear memory. A record's address is
// its guest pointer; each string field is a (ptr, len) pair pointing at a
// separately allocated UTF-8 buffer. Implements nativehandle.ObjectModel.
//
// All methods are safe for concurrent use; calls are serialized because a
// wazero module instance is not.
type Heap struct {
	runtime   wazero.Runtime
	module    api.Module
	mem       *Memory
	alloc     nativehandle.Allocator
	live      map[nativehandle.Address]struct{}
	layout    layout.Info
	allocated uint64
	destroyed uint64
	mu        sync.Mutex
	closed    bool
	guest     bool
}

var _ nativehandle.ObjectModel = (*Heap)(nil)

// Stats summarizes heap activity since creation.
type Stats struct {
	Allocated   uint64
	Destroyed   uint64
	Live        int
	MemoryBytes uint32
	GuestAlloc  bool
}

// New creates a heap backed by a fresh module that only defines a memory.
func New(ctx context.Context, cfg *Config) (*Heap, error) {
	c := cfg.withDefaults()
	if c.MemoryLimitPages > 0 && c.InitialPages > c.MemoryLimitPages {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("initial pages %d exceed limit %d", c.InitialPages, c.MemoryLimitPages).
			Build()
	}
	return load(ctx, wasmbin.MemoryModule(c.MemoryExport, c.InitialPages, 0), c, false)
}

// NewGuestAllocated creates a heap backed by a generated module whose
// cabi_realloc is a bump allocator. Destroyed records are never reused, so
// this suits short-lived heaps and exercising the guest allocation path.
func NewGuestAllocated(ctx context.Context, cfg *Config) (*Heap, error) {
	c := cfg.withDefaults()
	mod := wasmbin.BumpAllocatorModule(c.MemoryExport, c.ReallocExport, c.InitialPages, reservedBytes)
	return load(ctx, mod, c, true)
}

// Load creates a heap inside a caller-supplied core module. The module must
// export a memory; its cabi_realloc is used for allocation when present.
// The module must not have a start function that depends on imports.
func Load(ctx context.Context, wasmBytes []byte, cfg *Config) (*Heap, error) {
	return load(ctx, wasmBytes, cfg.withDefaults(), true)
}

func load(ctx context.Context, wasmBytes []byte, c Config, useGuestAlloc bool) (*Heap, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	mod, err := rt.InstantiateWithConfig(ctx, wasmBytes, wazero.NewModuleConfig().WithName(c.ModuleName))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "instantiate module")
	}

	raw := mod.ExportedMemory(c.MemoryExport)
	if raw == nil {
		_ = rt.Close(ctx)
		return nil, errors.MissingExport(c.MemoryExport)
	}

	info, err := layout.NewCalculator().Calculate(RecordType())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "record layout")
	}

	h := &Heap{
		runtime: rt,
		module:  mod,
		mem:     WrapMemory(raw),
		live:    make(map[nativehandle.Address]struct{}),
		layout:  info,
	}

	if fn := mod.ExportedFunction(c.ReallocExport); useGuestAlloc && fn != nil {
		h.alloc = &GuestAllocator{Ctx: ctx, Fn: fn}
		h.guest = true
	} else if useGuestAlloc {
		// Stay clear of whatever the guest keeps in its existing pages.
		h.alloc = NewFreeList(raw, raw.Size())
	} else {
		h.alloc = NewFreeList(raw, 0)
	}

	Logger().Debug("linear heap ready",
		zap.String("module", c.ModuleName),
		zap.Uint32("memory_bytes", raw.Size()),
		zap.Bool("guest_alloc", h.guest),
		zap.Uint32("record_size", info.Size))
	return h, nil
}

// AllocateRecord allocates a zeroed record: every string is (0, 0).
func (h *Heap) AllocateRecord() (nativehandle.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.Closed(errors.PhaseAllocate)
	}

	ptr, err := h.alloc.Alloc(h.layout.Size, h.layout.Align)
	if err != nil {
		return 0, err
	}
	if err := h.mem.Write(ptr, make([]byte, h.layout.Size)); err != nil {
		h.alloc.Free(ptr, h.layout.Size, h.layout.Align)
		return 0, err
	}

	addr := nativehandle.Address(ptr)
	h.live[addr] = struct{}{}
	h.allocated++
	return addr, nil
}

// DestroyRecord frees a record and its string buffers.
func (h *Heap) DestroyRecord(addr nativehandle.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check(errors.PhaseRelease, addr); err != nil {
		return err
	}

	// Read every slice before freeing any, so a failed read leaves the
	// record intact.
	bufs := make([]block, 0, len(nativehandle.Fields))
	for _, f := range nativehandle.Fields {
		off := uint32(addr) + h.layout.FieldOffs[string(f)]
		ptr, n, err := h.readSlice(off)
		if err != nil {
			return err
		}
		if n > 0 {
			bufs = append(bufs, block{ptr: ptr, size: n})
		}
	}
	for _, b := range bufs {
		h.alloc.Free(b.ptr, b.size, 1)
	}
	h.alloc.Free(uint32(addr), h.layout.Size, h.layout.Align)

	delete(h.live, addr)
	h.destroyed++
	return nil
}

// GetField decodes a string field of the record at addr.
func (h *Heap) GetField(addr nativehandle.Address, field nativehandle.Field) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	off, err := h.fieldOffset(addr, field)
	if err != nil {
		return "", err
	}

	ptr, n, err := h.readSlice(off)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > maxStringSize {
		return "", errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Field(string(field)).
			Address(uint32(addr)).
			Detail("string length %d exceeds limit", n).
			Build()
	}

	data, err := h.mem.Read(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, string(field), data)
	}
	return string(data), nil
}

// SetField encodes value into a fresh buffer and frees the previous one.
func (h *Heap) SetField(addr nativehandle.Address, field nativehandle.Field, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off, err := h.fieldOffset(addr, field)
	if err != nil {
		return err
	}
	if !utf8.ValidString(value) {
		return errors.InvalidUTF8(errors.PhaseEncode, string(field), []byte(value))
	}
	if len(value) > maxStringSize {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Field(string(field)).
			Detail("string length %d exceeds limit", len(value)).
			Build()
	}

	oldPtr, oldLen, err := h.readSlice(off)
	if err != nil {
		return err
	}

	var newPtr uint32
	newLen := uint32(len(value))
	if newLen > 0 {
		newPtr, err = h.alloc.Alloc(newLen, 1)
		if err != nil {
			return err
		}
		if err := h.mem.Write(newPtr, []byte(value)); err != nil {
			h.alloc.Free(newPtr, newLen, 1)
			return err
		}
	}

	if err := h.writeSlice(off, newPtr, newLen); err != nil {
		if newLen > 0 {
			h.alloc.Free(newPtr, newLen, 1)
		}
		return err
	}
	if oldLen > 0 {
		h.alloc.Free(oldPtr, oldLen, 1)
	}
	return nil
}

// Len returns the number of live records.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Each iterates over live record addresses until fn returns false.
// fn must not call back into the heap.
func (h *Heap) Each(fn func(nativehandle.Address) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for addr := range h.live {
		if !fn(addr) {
			break
		}
	}
}

// Stats returns allocation counters and the current memory size.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Allocated:  h.allocated,
		Destroyed:  h.destroyed,
		Live:       len(h.live),
		GuestAlloc: h.guest,
	}
	if !h.closed {
		s.MemoryBytes = h.mem.Size()
	}
	return s
}

// Memory exposes the heap's linear memory, for inspection and tests.
func (h *Heap) Memory() *Memory {
	return h.mem
}

// Close tears down the wazero runtime. Records still live are discarded
// along with the memory that holds them.
func (h *Heap) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if n := len(h.live); n > 0 {
		Logger().Debug("closing linear heap with live records", zap.Int("live", n))
		h.destroyed += uint64(n)
		h.live = make(map[nativehandle.Address]struct{})
	}
	return h.runtime.Close(ctx)
}

// check must be called with h.mu held.
func (h *Heap) check(phase errors.Phase, addr nativehandle.Address) error {
	if h.closed {
		return errors.Closed(phase)
	}
	if addr == 0 {
		return errors.InvalidHandle(phase, 0, "null address")
	}
	if _, ok := h.live[addr]; !ok {
		return errors.InvalidHandle(phase, uint32(addr), "no live record at address")
	}
	return nil
}

func (h *Heap) fieldOffset(addr nativehandle.Address, field nativehandle.Field) (uint32, error) {
	if err := h.check(errors.PhaseAccess, addr); err != nil {
		return 0, err
	}
	off, ok := h.layout.FieldOffs[string(field)]
	if !ok {
		return 0, errors.FieldUnknown(errors.PhaseAccess, string(field))
	}
	return uint32(addr) + off, nil
}

func (h *Heap) readSlice(off uint32) (ptr, n uint32, err error) {
	if ptr, err = h.mem.ReadU32(off); err != nil {
		return 0, 0, err
	}
	if n, err = h.mem.ReadU32(off + 4); err != nil {
		return 0, 0, err
	}
	return ptr, n, nil
}

func (h *Heap) writeSlice(off, ptr, n uint32) error {
	if err := h.mem.WriteU32(off, ptr); err != nil {
		return err
	}
	return h.mem.WriteU32(off+4, n)
}
