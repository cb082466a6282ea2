package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/nativehandle"
	"github.com/wippyai/nativehandle/heap"
	"github.com/wippyai/nativehandle/linear"
	"github.com/wippyai/nativehandle/proxy"
)

// seedRecord is one entry of a -records file.
type seedRecord struct {
	URL      string `yaml:"url"`
	MimeType string `yaml:"mimeType"`
}

// backend is the object model the CLI drives, plus the inspection
// hooks both heaps provide.
type backend struct {
	model nativehandle.ObjectModel
	len   func() int
	each  func(func(nativehandle.Address) bool)
	stats func() string
	close func() error
}

func main() {
	var (
		backendName = flag.String("backend", "local", "Record storage: local, wasm or guest")
		url         = flag.String("url", "", "URL of a record to create")
		mime        = flag.String("mime", "", "MIME type of a record to create")
		recordsFile = flag.String("records", "", "YAML file with a list of {url, mimeType} records")
		wasmFile    = flag.String("wasm", "", "Core module to host records (exports memory, optionally cabi_realloc)")
		pages       = flag.Uint("pages", 0, "Memory limit in 64KiB pages for wasm backends (0 = default)")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		log = l
	}
	defer func() { _ = log.Sync() }()
	proxy.SetLogger(log.Named("proxy"))
	linear.SetLogger(log.Named("linear"))

	seeds, err := loadSeeds(*recordsFile, *url, *mime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*interactive && len(seeds) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: rrinfo [-backend local|wasm|guest] -url <url> [-mime <type>]")
		fmt.Fprintln(os.Stderr, "       rrinfo [-backend ...] -records <file.yaml>")
		fmt.Fprintln(os.Stderr, "       rrinfo [-backend ...] -i  (interactive mode)")
		os.Exit(1)
	}

	ctx := context.Background()
	b, err := openBackend(ctx, *backendName, *wasmFile, uint32(*pages))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		err = runInteractive(b, seeds)
	} else {
		err = run(b, seeds)
	}
	if cerr := b.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSeeds(path, url, mime string) ([]seedRecord, error) {
	var seeds []seedRecord
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read records: %w", err)
		}
		if err := yaml.Unmarshal(data, &seeds); err != nil {
			return nil, fmt.Errorf("parse records: %w", err)
		}
	}
	if url != "" || mime != "" {
		seeds = append(seeds, seedRecord{URL: url, MimeType: mime})
	}
	return seeds, nil
}

func openBackend(ctx context.Context, name, wasmFile string, pages uint32) (*backend, error) {
	if name == "local" && wasmFile == "" {
		h := heap.New()
		return &backend{
			model: h,
			len:   h.Len,
			each:  h.Each,
			stats: func() string {
				s := h.Stats()
				return fmt.Sprintf("allocated=%d destroyed=%d live=%d", s.Allocated, s.Destroyed, s.Live)
			},
			close: h.Close,
		}, nil
	}

	cfg := &linear.Config{MemoryLimitPages: pages}
	var (
		h   *linear.Heap
		err error
	)
	switch {
	case wasmFile != "":
		data, rerr := os.ReadFile(wasmFile)
		if rerr != nil {
			return nil, fmt.Errorf("read module: %w", rerr)
		}
		h, err = linear.Load(ctx, data, cfg)
	case name == "wasm":
		h, err = linear.New(ctx, cfg)
	case name == "guest":
		h, err = linear.NewGuestAllocated(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}

	return &backend{
		model: h,
		len:   h.Len,
		each:  h.Each,
		stats: func() string {
			s := h.Stats()
			return fmt.Sprintf("allocated=%d destroyed=%d live=%d memory=%dB guest_alloc=%t",
				s.Allocated, s.Destroyed, s.Live, s.MemoryBytes, s.GuestAlloc)
		},
		close: func() error { return h.Close(ctx) },
	}, nil
}

func run(b *backend, seeds []seedRecord) error {
	cfg := &proxy.Config{Tracker: proxy.NewTracker()}

	proxies := make([]*proxy.Proxy, 0, len(seeds))
	defer func() {
		for _, p := range proxies {
			_ = p.Release()
		}
	}()

	for _, s := range seeds {
		p, err := newRecord(b.model, cfg, s)
		if err != nil {
			return err
		}
		proxies = append(proxies, p)
	}

	fmt.Printf("Records: %d\n", len(proxies))
	for _, p := range proxies {
		line, err := describe(p)
		if err != nil {
			return err
		}
		fmt.Println("  " + line)
	}

	for _, p := range proxies {
		addr := p.Address()
		if err := p.Release(); err != nil {
			return fmt.Errorf("release record 0x%08x: %w", addr, err)
		}
	}

	fmt.Printf("\nHeap: %s\n", b.stats())
	if n := b.len(); n != 0 {
		var leaked []string
		b.each(func(addr nativehandle.Address) bool {
			leaked = append(leaked, fmt.Sprintf("0x%08x", uint32(addr)))
			return true
		})
		return fmt.Errorf("%d records still live after release: %s", n, strings.Join(leaked, ", "))
	}
	return nil
}

func newRecord(model nativehandle.ObjectModel, cfg *proxy.Config, s seedRecord) (*proxy.Proxy, error) {
	p, err := proxy.NewWithConfig(model, cfg)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	if err := p.SetURL(s.URL); err != nil {
		_ = p.Release()
		return nil, fmt.Errorf("set url: %w", err)
	}
	if err := p.SetMimeType(s.MimeType); err != nil {
		_ = p.Release()
		return nil, fmt.Errorf("set mime type: %w", err)
	}
	return p, nil
}

func describe(p *proxy.Proxy) (string, error) {
	url, err := p.URL()
	if err != nil {
		return "", err
	}
	mime, err := p.MimeType()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%08x %s (%s)", p.Address(), url, mime), nil
}
