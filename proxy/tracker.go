package proxy

import (
	"sync"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
)

// Tracker records which addresses of one ObjectModel currently have an
// owning proxy. A second owner for the same address is rejected with a
// double_ownership error. Use one Tracker per ObjectModel.
//
// Tracking is opt-in: proxies built without a Tracker perform no check and
// single ownership remains the caller's obligation.
type Tracker struct {
	owned map[nativehandle.Address]struct{}
	mu    sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{owned: make(map[nativehandle.Address]struct{})}
}

// Owned reports whether addr has a tracked owner.
func (t *Tracker) Owned(addr nativehandle.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.owned[addr]
	return ok
}

// Len returns the number of tracked owners.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owned)
}

func (t *Tracker) claim(addr nativehandle.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owned[addr]; ok {
		return errors.DoubleOwnership(uint32(addr))
	}
	t.owned[addr] = struct{}{}
	return nil
}

func (t *Tracker) forget(addr nativehandle.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.owned, addr)
}
