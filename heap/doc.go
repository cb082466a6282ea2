// Package heap provides an in-process ObjectModel.
//
// Records are stored in a slot table. The address of a record is its slot
// index plus one, so address 0 is never valid. Freed slots are reused by
// later allocations:
//
//	h := heap.New()
//	addr, _ := h.AllocateRecord()
//	_ = h.SetField(addr, nativehandle.FieldURL, "https://example.com/x.png")
//	_ = h.DestroyRecord(addr)
//
// Unlike a raw native allocator, the heap knows which addresses are live.
// Destroying or reading a dead address returns an invalid_handle error.
//
// # Observers
//
// Register observers to track record lifecycle events:
//
//	unsubscribe := h.Subscribe(heap.ObserverFunc(func(e heap.Event) {
//	    log.Printf("record %d %s", e.Address, e.Type)
//	}))
//	defer unsubscribe()
//
// # Leak Detection
//
// Len and Each report records that were never destroyed. Close destroys
// whatever is left and rejects further operations.
package heap
