// Package nativehandle binds records that live outside the Go heap to Go
// proxies with explicit, single-owner lifetime.
//
// A record is a small "remote resource information" structure carrying a
// URL and a MIME type. The record itself is owned by an ObjectModel (the
// native library); Go code only ever holds an opaque Address to it.
//
// # Architecture Overview
//
//	nativehandle/        Root package with Address, ObjectModel, Memory and Allocator
//	├── proxy/           Owning and non-owning proxies, shared references, ownership tracker
//	├── heap/            In-process arena ObjectModel
//	├── linear/          ObjectModel backed by WebAssembly linear memory (wazero)
//	├── errors/          Structured error types
//	└── cmd/rrinfo/      CLI and interactive inspector
//
// # Quick Start
//
//	h := heap.New()
//	defer h.Close()
//
//	p, err := proxy.New(h)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Release()
//
//	_ = p.SetURL("https://example.com/x.png")
//	url, _ := p.URL()
//
// # Ownership
//
// A proxy created with proxy.New owns its record and destroys it on
// Release. A proxy created with proxy.Wrap(model, addr, false) only
// borrows the record; releasing it never touches native memory. At most
// one proxy may own a given address. proxy.Tracker can check that at
// runtime; without one it is the caller's obligation.
//
// # Memory Model
//
// Release is the primary contract. Every proxy also registers a GC
// cleanup that releases it if it becomes unreachable, but cleanup timing
// is not guaranteed and must not be relied upon to reclaim native memory.
// Heaps expose Len and Each so tests can detect leaked records.
package nativehandle
