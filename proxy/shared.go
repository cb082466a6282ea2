package proxy

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
)

// Shared is one counted reference to a record with shared ownership.
// Every reference obtained from NewShared, Share or Clone must be released;
// the last release destroys the record exactly once.
type Shared struct {
	*shareRef
	cleanup runtime.Cleanup
}

type shareRef struct {
	rec      *sharedRecord
	mu       sync.Mutex
	released bool
}

type sharedRecord struct {
	model nativehandle.ObjectModel
	addr  nativehandle.Address
	refs  int
	mu    sync.Mutex
}

// NewShared allocates a new record and returns the first reference to it.
func NewShared(model nativehandle.ObjectModel) (*Shared, error) {
	if model == nil {
		return nil, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Detail("nil object model").
			Build()
	}

	addr, err := model.AllocateRecord()
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, errors.InvalidHandle(errors.PhaseAllocate, 0, "object model returned null address")
	}
	return newShareRef(&sharedRecord{model: model, addr: addr, refs: 1}), nil
}

// Share converts an owning proxy into the first shared reference to its
// record. The proxy is left inert.
func Share(p *Proxy) (*Shared, error) {
	if p == nil {
		return nil, errors.New(errors.PhaseAccess, errors.KindInvalidInput).
			Detail("nil proxy").
			Build()
	}

	model := p.model
	addr, err := p.Disown()
	if err != nil {
		return nil, err
	}
	return newShareRef(&sharedRecord{model: model, addr: addr, refs: 1}), nil
}

func newShareRef(rec *sharedRecord) *Shared {
	r := &shareRef{rec: rec}
	s := &Shared{shareRef: r}
	s.cleanup = runtime.AddCleanup(s, (*shareRef).finalize, r)
	return s
}

// Clone adds a reference to the record.
func (s *Shared) Clone() (*Shared, error) {
	defer runtime.KeepAlive(s)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, errors.InvalidHandle(errors.PhaseAccess, 0, "shared reference released")
	}
	if err := s.rec.retain(); err != nil {
		return nil, err
	}
	return newShareRef(s.rec), nil
}

// Address returns the record address, 0 once this reference is released.
func (s *Shared) Address() nativehandle.Address {
	return s.address()
}

// Refs returns the number of unreleased references to the record.
func (s *Shared) Refs() int {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.rec.refs
}

// URL reads the record's url field.
func (s *Shared) URL() (string, error) {
	defer runtime.KeepAlive(s)
	return getField(s.rec.model, s.address(), nativehandle.FieldURL)
}

// SetURL writes the record's url field.
func (s *Shared) SetURL(value string) error {
	defer runtime.KeepAlive(s)
	return setField(s.rec.model, s.address(), nativehandle.FieldURL, value)
}

// MimeType reads the record's mime-type field.
func (s *Shared) MimeType() (string, error) {
	defer runtime.KeepAlive(s)
	return getField(s.rec.model, s.address(), nativehandle.FieldMimeType)
}

// SetMimeType writes the record's mime-type field.
func (s *Shared) SetMimeType(value string) error {
	defer runtime.KeepAlive(s)
	return setField(s.rec.model, s.address(), nativehandle.FieldMimeType, value)
}

// Release drops this reference. Releasing the same reference again is a
// no-op; releasing the last reference destroys the record.
func (s *Shared) Release() error {
	s.cleanup.Stop()
	return s.release()
}

// Close is Release, for use with defer and io.Closer.
func (s *Shared) Close() error {
	return s.Release()
}

func (r *shareRef) address() nativehandle.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return 0
	}

	r.rec.mu.Lock()
	defer r.rec.mu.Unlock()
	return r.rec.addr
}

func (r *shareRef) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil
	}
	r.released = true
	return r.rec.release()
}

func (r *shareRef) finalize() {
	defer func() {
		if p := recover(); p != nil {
			Logger().Debug("shared reference cleanup panicked", zap.Any("panic", p))
		}
	}()

	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return
	}

	Logger().Warn("shared reference reclaimed by cleanup; reference was never released",
		zap.Uint32("address", uint32(r.address())))
	if err := r.release(); err != nil {
		Logger().Debug("shared reference cleanup release failed", zap.Error(err))
	}
}

func (rec *sharedRecord) retain() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.refs == 0 {
		return errors.InvalidHandle(errors.PhaseAccess, 0, "shared record already destroyed")
	}
	rec.refs++
	return nil
}

func (rec *sharedRecord) release() error {
	rec.mu.Lock()
	rec.refs--
	if rec.refs > 0 {
		rec.mu.Unlock()
		return nil
	}
	addr := rec.addr
	rec.addr = 0
	rec.mu.Unlock()

	return rec.model.DestroyRecord(addr)
}
