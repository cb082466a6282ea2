// Package linear stores records in WebAssembly linear memory.
//
// A Heap owns a wazero runtime and a single module instance. Each record is
// laid out with the Canonical ABI:
//
//	offset 0: url       (ptr u32, len u32)
//	offset 8: mime-type (ptr u32, len u32)
//
// for a 16-byte record aligned to 4. The layout is computed from the WIT
// definition returned by RecordType. Record and string buffers come from an
// Allocator: either the Go-side FreeList or the guest's cabi_realloc export.
//
// Address 0 is never a valid record. The FreeList reserves the first bytes
// of memory, and a guest allocator returning 0 is treated as out of memory.
//
// Basic usage:
//
//	h, err := linear.New(ctx, nil)
//	if err != nil {
//		return err
//	}
//	defer h.Close(ctx)
//
//	p, err := proxy.New(h)
package linear
