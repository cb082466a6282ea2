package proxy

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
)

// Config holds optional proxy settings. A nil *Config means defaults.
type Config struct {
	// Tracker, when set, rejects a second owning proxy for the same address.
	Tracker *Tracker
}

// Proxy is a Go-side stand-in for a record owned by an ObjectModel.
//
// Field accessors forward to the record on every call; nothing is cached,
// so writes made through other proxies are visible immediately.
//
// Release is safe to call concurrently and any number of times. Accessors
// are not synchronized against a concurrent Release: a caller that reads
// fields on one goroutine while releasing on another must coordinate.
type Proxy struct {
	*binding
	cleanup runtime.Cleanup
}

// binding is the state shared with the GC cleanup. It must never point
// back at its Proxy or the cleanup would keep the proxy reachable.
type binding struct {
	model   nativehandle.ObjectModel
	tracker *Tracker
	addr    nativehandle.Address
	owns    bool
	mu      sync.Mutex
}

// New allocates a new record and returns a proxy that owns it.
func New(model nativehandle.ObjectModel) (*Proxy, error) {
	return NewWithConfig(model, nil)
}

// NewWithConfig allocates a new record with custom configuration.
func NewWithConfig(model nativehandle.ObjectModel, cfg *Config) (*Proxy, error) {
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

	b := &binding{model: model, addr: addr, owns: true, tracker: trackerOf(cfg)}
	if b.tracker != nil {
		if err := b.tracker.claim(addr); err != nil {
			// The model handed out an address that a tracked proxy still owns.
			_ = model.DestroyRecord(addr)
			return nil, err
		}
	}
	return bind(b), nil
}

// Wrap returns a proxy for an existing record. With takeOwnership the proxy
// destroys the record on Release; otherwise Release only unbinds it.
// Wrapping address 0 is a caller error.
func Wrap(model nativehandle.ObjectModel, addr nativehandle.Address, takeOwnership bool) (*Proxy, error) {
	return WrapWithConfig(model, addr, takeOwnership, nil)
}

// WrapWithConfig wraps an existing record with custom configuration.
func WrapWithConfig(model nativehandle.ObjectModel, addr nativehandle.Address, takeOwnership bool, cfg *Config) (*Proxy, error) {
	if model == nil {
		return nil, errors.New(errors.PhaseAccess, errors.KindInvalidInput).
			Detail("nil object model").
			Build()
	}
	if addr == 0 {
		return nil, errors.InvalidHandle(errors.PhaseAccess, 0, "cannot wrap null address")
	}

	b := &binding{model: model, addr: addr, owns: takeOwnership, tracker: trackerOf(cfg)}
	if takeOwnership && b.tracker != nil {
		if err := b.tracker.claim(addr); err != nil {
			return nil, err
		}
	}
	return bind(b), nil
}

func trackerOf(cfg *Config) *Tracker {
	if cfg == nil {
		return nil
	}
	return cfg.Tracker
}

func bind(b *binding) *Proxy {
	p := &Proxy{binding: b}
	p.cleanup = runtime.AddCleanup(p, (*binding).finalize, b)
	return p
}

// AddressOf returns the address p is bound to, or 0 for a nil proxy.
func AddressOf(p *Proxy) nativehandle.Address {
	if p == nil {
		return 0
	}
	return p.Address()
}

// Address returns the bound address, 0 once released.
func (p *Proxy) Address() nativehandle.Address {
	return p.address()
}

// Owned reports whether Release will destroy the record.
func (p *Proxy) Owned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owns
}

// URL reads the record's url field.
func (p *Proxy) URL() (string, error) {
	defer runtime.KeepAlive(p)
	return getField(p.model, p.address(), nativehandle.FieldURL)
}

// SetURL writes the record's url field.
func (p *Proxy) SetURL(value string) error {
	defer runtime.KeepAlive(p)
	return setField(p.model, p.address(), nativehandle.FieldURL, value)
}

// MimeType reads the record's mime-type field.
func (p *Proxy) MimeType() (string, error) {
	defer runtime.KeepAlive(p)
	return getField(p.model, p.address(), nativehandle.FieldMimeType)
}

// SetMimeType writes the record's mime-type field.
func (p *Proxy) SetMimeType(value string) error {
	defer runtime.KeepAlive(p)
	return setField(p.model, p.address(), nativehandle.FieldMimeType, value)
}

// SetOwned hands destruction responsibility to (own=true) or away from
// (own=false) this proxy. The address stays bound either way.
func (p *Proxy) SetOwned(own bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.addr == 0 {
		return errors.InvalidHandle(errors.PhaseAccess, 0, "proxy is not bound to a record")
	}
	if own == p.owns {
		return nil
	}
	if p.tracker != nil {
		if own {
			if err := p.tracker.claim(p.addr); err != nil {
				return err
			}
		} else {
			p.tracker.forget(p.addr)
		}
	}
	p.owns = own
	return nil
}

// Disown moves ownership of the record out of the proxy. The proxy becomes
// inert, the record survives, and the caller becomes responsible for it.
func (p *Proxy) Disown() (nativehandle.Address, error) {
	p.mu.Lock()
	if p.addr == 0 {
		p.mu.Unlock()
		return 0, errors.InvalidHandle(errors.PhaseRelease, 0, "proxy is not bound to a record")
	}
	if !p.owns {
		addr := p.addr
		p.mu.Unlock()
		return 0, errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Address(uint32(addr)).
			Detail("proxy does not own its record").
			Build()
	}

	addr := p.addr
	p.owns = false
	p.addr = 0
	if p.tracker != nil {
		p.tracker.forget(addr)
	}
	p.mu.Unlock()

	p.cleanup.Stop()
	return addr, nil
}

// Release unbinds the proxy, destroying the record first if the proxy owns
// it. Later calls are no-ops. The proxy is inert afterwards even if the
// object model reports an error while destroying.
func (p *Proxy) Release() error {
	p.cleanup.Stop()
	return p.release()
}

// Close is Release, for use with defer and io.Closer.
func (p *Proxy) Close() error {
	return p.Release()
}

func (b *binding) address() nativehandle.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

func (b *binding) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.addr == 0 {
		return nil
	}

	// Unbound before DestroyRecord runs, even if it fails or panics.
	addr := b.addr
	b.addr = 0
	if !b.owns {
		return nil
	}
	b.owns = false
	if b.tracker != nil {
		b.tracker.forget(addr)
	}
	return b.model.DestroyRecord(addr)
}

// finalize runs on the runtime's cleanup goroutine. Nothing may escape it.
func (b *binding) finalize() {
	defer func() {
		if r := recover(); r != nil {
			Logger().Debug("proxy cleanup panicked", zap.Any("panic", r))
		}
	}()

	b.mu.Lock()
	addr, owned := b.addr, b.owns
	b.mu.Unlock()

	if addr == 0 {
		return
	}
	if owned {
		Logger().Warn("record reclaimed by cleanup; proxy was never released",
			zap.Uint32("address", uint32(addr)))
	}
	if err := b.release(); err != nil {
		Logger().Debug("proxy cleanup release failed",
			zap.Uint32("address", uint32(addr)), zap.Error(err))
	}
}

func getField(model nativehandle.ObjectModel, addr nativehandle.Address, field nativehandle.Field) (string, error) {
	if addr == 0 {
		return "", unbound(field)
	}
	return model.GetField(addr, field)
}

func setField(model nativehandle.ObjectModel, addr nativehandle.Address, field nativehandle.Field, value string) error {
	if addr == 0 {
		return unbound(field)
	}
	return model.SetField(addr, field, value)
}

func unbound(field nativehandle.Field) error {
	return errors.New(errors.PhaseAccess, errors.KindInvalidHandle).
		Field(string(field)).
		Detail("proxy is not bound to a record").
		Build()
}
