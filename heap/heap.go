package heap

import (
	"slices"
	"sync"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
)

// Heap is an in-process record store addressed by slot index.
// Address n refers to slot n-1; address 0 is never handed out.
// Implements nativehandle.ObjectModel.
type Heap struct {
	entries   []entry
	freeList  []nativehandle.Address
	observers []*subscription
	allocated uint64
	destroyed uint64
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	url      string
	mimeType string
	valid    bool
}

var _ nativehandle.ObjectModel = (*Heap)(nil)

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		entries:  make([]entry, 0, 64),
		freeList: make([]nativehandle.Address, 0, 16),
	}
}

// AllocateRecord stores a new empty record and returns its address.
func (h *Heap) AllocateRecord() (nativehandle.Address, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, errors.Closed(errors.PhaseAllocate)
	}

	var addr nativehandle.Address
	if len(h.freeList) > 0 {
		addr = h.freeList[len(h.freeList)-1]
		h.freeList = h.freeList[:len(h.freeList)-1]
		h.entries[addr-1] = entry{valid: true}
	} else {
		h.entries = append(h.entries, entry{valid: true})
		addr = nativehandle.Address(len(h.entries))
	}
	h.allocated++
	h.mu.Unlock()

	h.notify(Event{Type: EventAllocated, Address: addr})
	return addr, nil
}

// DestroyRecord frees the record at addr. Destroying an address twice
// reports an invalid handle instead of corrupting the free list.
func (h *Heap) DestroyRecord(addr nativehandle.Address) error {
	h.mu.Lock()
	e, err := h.lookup(errors.PhaseRelease, addr)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	*e = entry{}
	h.freeList = append(h.freeList, addr)
	h.destroyed++
	h.mu.Unlock()

	h.notify(Event{Type: EventDestroyed, Address: addr})
	return nil
}

// GetField reads a field of the record at addr.
func (h *Heap) GetField(addr nativehandle.Address, field nativehandle.Field) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, err := h.lookup(errors.PhaseAccess, addr)
	if err != nil {
		return "", err
	}

	switch field {
	case nativehandle.FieldURL:
		return e.url, nil
	case nativehandle.FieldMimeType:
		return e.mimeType, nil
	default:
		return "", errors.FieldUnknown(errors.PhaseAccess, string(field))
	}
}

// SetField writes a field of the record at addr.
func (h *Heap) SetField(addr nativehandle.Address, field nativehandle.Field, value string) error {
	h.mu.Lock()
	e, err := h.lookup(errors.PhaseAccess, addr)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	switch field {
	case nativehandle.FieldURL:
		e.url = value
	case nativehandle.FieldMimeType:
		e.mimeType = value
	default:
		h.mu.Unlock()
		return errors.FieldUnknown(errors.PhaseAccess, string(field))
	}
	h.mu.Unlock()

	h.notify(Event{Type: EventFieldSet, Address: addr, Field: field, Value: value})
	return nil
}

// lookup must be called with h.mu held.
func (h *Heap) lookup(phase errors.Phase, addr nativehandle.Address) (*entry, error) {
	if h.closed {
		return nil, errors.Closed(phase)
	}
	if addr == 0 {
		return nil, errors.InvalidHandle(phase, 0, "null address")
	}

	idx := int(addr) - 1
	if idx >= len(h.entries) || !h.entries[idx].valid {
		return nil, errors.InvalidHandle(phase, uint32(addr), "no live record at address")
	}
	return &h.entries[idx], nil
}

// Len returns the number of live records.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, e := range h.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over live record addresses until fn returns false.
// fn must not call back into the heap's mutating methods.
func (h *Heap) Each(fn func(nativehandle.Address) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i, e := range h.entries {
		if e.valid {
			if !fn(nativehandle.Address(i + 1)) {
				break
			}
		}
	}
}

// Stats returns allocation counters.
func (h *Heap) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Allocated: h.allocated,
		Destroyed: h.destroyed,
		Live:      int(h.allocated - h.destroyed),
	}
}

// subscription wraps an observer so removal compares pointers; Observer
// values such as ObserverFunc need not be comparable.
type subscription struct {
	o Observer
}

// Subscribe adds an observer for lifecycle events. The returned function
// removes it; calling it more than once is a no-op. It must not be
// called from inside an observer.
func (h *Heap) Subscribe(o Observer) (unsubscribe func()) {
	sub := &subscription{o: o}
	h.obsMu.Lock()
	h.observers = append(h.observers, sub)
	h.obsMu.Unlock()

	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		for i, s := range h.observers {
			if s == sub {
				h.observers = slices.Delete(h.observers, i, i+1)
				return
			}
		}
	}
}

// Close destroys every live record and rejects further operations.
func (h *Heap) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	var dropped []nativehandle.Address
	for i := range h.entries {
		if h.entries[i].valid {
			dropped = append(dropped, nativehandle.Address(i+1))
			h.entries[i] = entry{}
			h.destroyed++
		}
	}
	h.entries = nil
	h.freeList = nil
	h.mu.Unlock()

	for _, addr := range dropped {
		h.notify(Event{Type: EventDestroyed, Address: addr})
	}
	return nil
}

func (h *Heap) notify(e Event) {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	for _, s := range h.observers {
		s.o.OnRecordEvent(e)
	}
}
