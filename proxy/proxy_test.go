package proxy

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/errors"
	"github.com/wippyai/nativehandle/heap"
)

// countingModel counts DestroyRecord calls on top of an in-process heap.
type countingModel struct {
	*heap.Heap
	destroys atomic.Int32
}

func newCountingModel() *countingModel {
	return &countingModel{Heap: heap.New()}
}

func (m *countingModel) DestroyRecord(addr nativehandle.Address) error {
	m.destroys.Add(1)
	return m.Heap.DestroyRecord(addr)
}

// panicModel panics on every destroy.
type panicModel struct {
	*heap.Heap
}

func (panicModel) DestroyRecord(nativehandle.Address) error {
	panic("destroy exploded")
}

func TestNew_OwnsFreshRecord(t *testing.T) {
	m := newCountingModel()

	p, err := New(m)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Release()

	if p.Address() == 0 {
		t.Fatal("Expected non-zero address")
	}
	if !p.Owned() {
		t.Fatal("Expected New to return an owning proxy")
	}

	url, err := p.URL()
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if url != "" {
		t.Fatalf("Expected default url to be empty, got %q", url)
	}
}

func TestNew_NilModel(t *testing.T) {
	if _, err := New(nil); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("Expected invalid_input, got %v", err)
	}
}

func TestProxy_RoundTrip(t *testing.T) {
	p, err := New(heap.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Release()

	if err := p.SetURL("https://example.com/x.png"); err != nil {
		t.Fatalf("SetURL failed: %v", err)
	}
	if err := p.SetMimeType("image/png"); err != nil {
		t.Fatalf("SetMimeType failed: %v", err)
	}

	url, _ := p.URL()
	if url != "https://example.com/x.png" {
		t.Fatalf("URL = %q, want %q", url, "https://example.com/x.png")
	}
	mime, _ := p.MimeType()
	if mime != "image/png" {
		t.Fatalf("MimeType = %q, want %q", mime, "image/png")
	}
}

func TestProxy_NoCaching(t *testing.T) {
	h := heap.New()
	p, _ := New(h)
	defer p.Release()

	if err := h.SetField(p.Address(), nativehandle.FieldURL, "https://example.com/changed"); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}

	url, _ := p.URL()
	if url != "https://example.com/changed" {
		t.Fatalf("proxy should observe external writes, got %q", url)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	tests := []struct {
		name         string
		owning       bool
		releases     int
		wantDestroys int32
	}{
		{"owning once", true, 1, 1},
		{"owning twice", true, 2, 1},
		{"owning five times", true, 5, 1},
		{"borrowed once", false, 1, 0},
		{"borrowed three times", false, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newCountingModel()
			addr, _ := m.AllocateRecord()

			p, err := Wrap(m, addr, tt.owning)
			if err != nil {
				t.Fatalf("Wrap failed: %v", err)
			}

			for i := 0; i < tt.releases; i++ {
				if err := p.Release(); err != nil {
					t.Fatalf("release %d failed: %v", i, err)
				}
			}

			if got := m.destroys.Load(); got != tt.wantDestroys {
				t.Fatalf("DestroyRecord called %d times, want %d", got, tt.wantDestroys)
			}
			if p.Address() != 0 {
				t.Fatal("Expected address 0 after release")
			}
			if p.Owned() {
				t.Fatal("Expected ownership cleared after release")
			}

			if !tt.owning {
				_ = m.DestroyRecord(addr)
			}
		})
	}
}

func TestRelease_AccessorsFail(t *testing.T) {
	p, _ := New(heap.New())
	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	checks := map[string]error{
		"URL":         second(p.URL()),
		"SetURL":      p.SetURL("x"),
		"MimeType":    second(p.MimeType()),
		"SetMimeType": p.SetMimeType("x"),
		"SetOwned":    p.SetOwned(true),
	}
	for name, err := range checks {
		if !errors.IsKind(err, errors.KindInvalidHandle) {
			t.Errorf("%s after release: got %v, want invalid_handle", name, err)
		}
	}

	if _, err := p.Disown(); !errors.IsKind(err, errors.KindInvalidHandle) {
		t.Errorf("Disown after release: got %v, want invalid_handle", err)
	}
}

func TestRelease_Concurrent(t *testing.T) {
	m := newCountingModel()
	p, _ := New(m)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Release()
		}()
	}
	wg.Wait()

	if got := m.destroys.Load(); got != 1 {
		t.Fatalf("DestroyRecord called %d times, want 1", got)
	}
	if m.Len() != 0 {
		t.Fatalf("Expected no live records, got %d", m.Len())
	}
}

func TestRelease_DestroyErrorStillUnbinds(t *testing.T) {
	m := newCountingModel()
	addr, _ := m.AllocateRecord()
	_ = m.Heap.DestroyRecord(addr)

	p, _ := Wrap(m, addr, true)
	err := p.Release()
	if !errors.IsKind(err, errors.KindInvalidHandle) {
		t.Fatalf("Expected destroy error to surface, got %v", err)
	}
	if p.Address() != 0 {
		t.Fatal("Expected proxy to be unbound after failed destroy")
	}
	if err := p.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got %v", err)
	}
}

func TestWrap_NullAddress(t *testing.T) {
	_, err := Wrap(heap.New(), 0, false)
	if !errors.IsKind(err, errors.KindInvalidHandle) {
		t.Fatalf("Expected invalid_handle for address 0, got %v", err)
	}
}

func TestWrap_TwoBorrowers(t *testing.T) {
	m := newCountingModel()
	addr, _ := m.AllocateRecord()
	_ = m.SetField(addr, nativehandle.FieldURL, "https://example.com/shared.png")

	a, _ := Wrap(m, addr, false)
	b, _ := Wrap(m, addr, false)

	if err := a.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	url, err := b.URL()
	if err != nil {
		t.Fatalf("second borrower should still read: %v", err)
	}
	if url != "https://example.com/shared.png" {
		t.Fatalf("URL = %q", url)
	}

	if err := b.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := m.destroys.Load(); got != 0 {
		t.Fatalf("borrowers destroyed the record %d times", got)
	}
	if m.Len() != 1 {
		t.Fatal("record should survive both borrowers")
	}
}

func TestWrap_OwnerAndBorrower(t *testing.T) {
	m := newCountingModel()
	owner, _ := New(m)
	borrower, _ := Wrap(m, owner.Address(), false)
	defer borrower.Release()

	if err := owner.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// The borrower still holds the address; the record behind it is gone.
	if _, err := borrower.URL(); !errors.IsKind(err, errors.KindInvalidHandle) {
		t.Fatalf("Expected invalid_handle from the object model, got %v", err)
	}
}

func TestAddressOf(t *testing.T) {
	if AddressOf(nil) != 0 {
		t.Fatal("AddressOf(nil) should be 0")
	}

	p, _ := New(heap.New())
	addr := AddressOf(p)
	if addr == 0 || addr != p.Address() {
		t.Fatalf("AddressOf = %d, Address = %d", addr, p.Address())
	}

	_ = p.Release()
	if AddressOf(p) != 0 {
		t.Fatal("AddressOf should be 0 after release")
	}
}

func TestSetOwned(t *testing.T) {
	m := newCountingModel()
	addr, _ := m.AllocateRecord()

	p, _ := Wrap(m, addr, false)
	if err := p.SetOwned(true); err != nil {
		t.Fatalf("SetOwned failed: %v", err)
	}
	if !p.Owned() {
		t.Fatal("Expected proxy to own its record")
	}
	_ = p.Release()

	if got := m.destroys.Load(); got != 1 {
		t.Fatalf("DestroyRecord called %d times, want 1", got)
	}

	q, _ := New(m)
	if err := q.SetOwned(false); err != nil {
		t.Fatalf("SetOwned failed: %v", err)
	}
	qaddr := q.Address()
	_ = q.Release()
	if got := m.destroys.Load(); got != 1 {
		t.Fatalf("disowned release should not destroy, got %d destroys", got)
	}
	_ = m.DestroyRecord(qaddr)
}

func TestDisown(t *testing.T) {
	m := newCountingModel()
	p, _ := New(m)
	_ = p.SetURL("https://example.com/moved.png")

	addr, err := p.Disown()
	if err != nil {
		t.Fatalf("Disown failed: %v", err)
	}
	if addr == 0 {
		t.Fatal("Disown returned null address")
	}
	if p.Address() != 0 {
		t.Fatal("proxy should be inert after Disown")
	}
	if err := p.Release(); err != nil {
		t.Fatalf("Release after Disown failed: %v", err)
	}
	if m.destroys.Load() != 0 {
		t.Fatal("Disown must not destroy the record")
	}

	q, _ := Wrap(m, addr, true)
	url, _ := q.URL()
	if url != "https://example.com/moved.png" {
		t.Fatalf("URL = %q after ownership move", url)
	}
	_ = q.Release()
	if m.Len() != 0 {
		t.Fatal("new owner should have destroyed the record")
	}
}

func TestDisown_NotOwner(t *testing.T) {
	m := newCountingModel()
	addr, _ := m.AllocateRecord()
	defer m.DestroyRecord(addr)

	p, _ := Wrap(m, addr, false)
	defer p.Release()

	if _, err := p.Disown(); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("Expected invalid_input, got %v", err)
	}
	if p.Address() != addr {
		t.Fatal("failed Disown must leave proxy bound")
	}
}

func TestClose(t *testing.T) {
	m := newCountingModel()
	p, _ := New(m)
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.destroys.Load() != 1 {
		t.Fatal("Close should destroy an owned record")
	}
}

func second(_ string, err error) error {
	return err
}
