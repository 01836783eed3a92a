package pkgitem

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/cryptoutil"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
)

// countingProvider wraps a provider and counts GetFile calls.
type countingProvider struct {
	provider.Provider
	calls atomic.Int32
	delay time.Duration
	sha   string
	refs  []string
	mu    sync.Mutex
}

func (c *countingProvider) GetFile(ctx context.Context, p, pkg string) (*provider.File, error) {
	c.calls.Add(1)
	c.mu.Lock()
	_, ref := provider.SplitRef(p)
	c.refs = append(c.refs, ref)
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	f, err := c.Provider.GetFile(ctx, p, pkg)
	if err == nil && c.sha != "" {
		f.SHA = c.sha
	}
	return f, err
}

type fakeSource struct {
	pkgs  map[string]appconfig.Package
	prov  provider.Provider
	items *Cache
	gen   int64
}

func (s *fakeSource) Package(name string) (appconfig.Package, bool) {
	p, ok := s.pkgs[name]
	return p, ok
}
func (s *fakeSource) Provider() provider.Provider { return s.prov }
func (s *fakeSource) Items() *Cache               { return s.items }
func (s *fakeSource) Generation() int64           { return s.gen }

type counts struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *counts) IncPackageItem(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]int{}
	}
	c.m[result]++
}

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"web/client/index.html":    {Data: []byte("<h1>home</h1>")},
		"web/client/assets/app.ts": {Data: []byte("export const x = 1")},
		"web/client/logo.png":      {Data: []byte{0x89, 'P', 'N', 'G'}},
		"web/client/noext":         {Data: []byte("plain")},
		"local/client/dev.html":    {Data: []byte("local copy")},
	}
}

func newTestSource(prov provider.Provider, gen int64) *fakeSource {
	return &fakeSource{
		pkgs: map[string]appconfig.Package{
			"web": {
				Tag: "v7",
				PackageItemConfig: map[string]appconfig.ItemConfig{
					"/client/":        {CacheControl: "max-age=60"},
					"/client/assets/": {CacheControl: "max-age=31536000", AllowOrigin: "*"},
				},
			},
			"local": {UseLocalRepo: true},
		},
		prov:  prov,
		items: NewCache(),
		gen:   gen,
	}
}

func TestResolve_CacheCoherence(t *testing.T) {
	cp := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), "")}
	src := newTestSource(cp, 1)
	obs := &counts{}
	r := NewResolver(Options{Observer: obs})
	ctx := context.Background()

	a, ok := r.Resolve(ctx, src, "/web/client/index.html")
	if !ok {
		t.Fatal("first resolve absent")
	}
	b, ok := r.Resolve(ctx, src, "/web/client/index.html")
	if !ok {
		t.Fatal("second resolve absent")
	}
	if a != b {
		t.Fatal("second resolve returned a different item")
	}
	if cp.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", cp.calls.Load())
	}
	if obs.m["miss"] != 1 || obs.m["hit"] != 1 {
		t.Fatalf("observer = %v", obs.m)
	}
	if cp.refs[0] != "v7" {
		t.Fatalf("ref = %q, want package tag", cp.refs[0])
	}
}

func TestResolve_NewGenerationRefetches(t *testing.T) {
	cp := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), "")}
	r := NewResolver(Options{})
	ctx := context.Background()

	first, _ := r.Resolve(ctx, newTestSource(cp, 1), "/web/client/index.html")
	second, _ := r.Resolve(ctx, newTestSource(cp, 2), "/web/client/index.html")

	if cp.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", cp.calls.Load())
	}
	if first == second {
		t.Fatal("new generation returned the old item")
	}
	if first.ETag != second.ETag {
		t.Fatal("unchanged content should hash to the same ETag")
	}
	if second.Generation != 2 {
		t.Fatalf("Generation = %d", second.Generation)
	}
}

func TestResolve_ItemFields(t *testing.T) {
	src := newTestSource(provider.NewFileSystemFS(testFiles(), ""), 1)
	r := NewResolver(Options{})
	ctx := context.Background()

	it, ok := r.Resolve(ctx, src, "/web/client/index.html")
	if !ok {
		t.Fatal("absent")
	}
	if it.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q", it.ContentType)
	}
	if it.ETag != cryptoutil.Digest([]byte("<h1>home</h1>")) {
		t.Errorf("ETag = %q, want local sha256", it.ETag)
	}
	if it.CacheControl != "max-age=60" || it.AllowOrigin != "" {
		t.Errorf("override = %q / %q", it.CacheControl, it.AllowOrigin)
	}

	it, _ = r.Resolve(ctx, src, "/web/client/assets/app.ts")
	if it.ContentType != "application/typescript; charset=utf-8" {
		t.Errorf("ts ContentType = %q", it.ContentType)
	}
	if it.CacheControl != "max-age=31536000" || it.AllowOrigin != "*" {
		t.Errorf("most specific override not applied: %q / %q", it.CacheControl, it.AllowOrigin)
	}

	it, _ = r.Resolve(ctx, src, "/web/client/logo.png")
	if it.ContentType != "image/png" {
		t.Errorf("png ContentType = %q", it.ContentType)
	}
}

func TestResolve_ProviderHashIsETag(t *testing.T) {
	cp := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), ""), sha: "blob-sha"}
	it, ok := NewResolver(Options{}).Resolve(context.Background(), newTestSource(cp, 1), "/web/client/index.html")
	if !ok || it.ETag != "blob-sha" {
		t.Fatalf("ETag = %v", it)
	}
}

func TestResolve_DefaultCachePolicy(t *testing.T) {
	src := newTestSource(provider.NewFileSystemFS(testFiles(), ""), 1)
	src.pkgs["web"] = appconfig.Package{}
	r := NewResolver(Options{Cache: CachePolicy{HTML: "h", Asset: "a", Other: "o"}})
	ctx := context.Background()

	for path, want := range map[string]string{
		"/web/client/index.html":    "h",
		"/web/client/assets/app.ts": "a",
		"/web/client/noext":         "h",
	} {
		it, ok := r.Resolve(ctx, src, path)
		if !ok {
			t.Fatalf("%s absent", path)
		}
		if it.CacheControl != want {
			t.Errorf("%s CacheControl = %q, want %q", path, it.CacheControl, want)
		}
	}
}

func TestResolve_Absent(t *testing.T) {
	cp := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), "")}
	src := newTestSource(cp, 1)
	obs := &counts{}
	r := NewResolver(Options{Observer: obs})
	ctx := context.Background()

	for _, p := range []string{"/nope/client/x.html", "/web/client/missing.html", "/web", "/web/../local/client/dev.html"} {
		if it, ok := r.Resolve(ctx, src, p); ok {
			t.Errorf("Resolve(%q) = %+v, want absent", p, it)
		}
	}
	if src.items.Len() != 0 {
		t.Fatal("absence must not be cached")
	}
	// unregistered packages never reach the provider
	if cp.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", cp.calls.Load())
	}
	if obs.m["absent"] != 4 {
		t.Fatalf("observer = %v", obs.m)
	}
}

func TestResolve_UseLocalRepo(t *testing.T) {
	remote := &countingProvider{Provider: provider.NewFileSystemFS(fstest.MapFS{}, "")}
	local := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), "")}
	r := NewResolver(Options{Local: local})

	it, ok := r.Resolve(context.Background(), newTestSource(remote, 1), "/local/client/dev.html")
	if !ok || string(it.Content) != "local copy" {
		t.Fatalf("Resolve = %v, %v", it, ok)
	}
	if remote.calls.Load() != 0 || local.calls.Load() != 1 {
		t.Fatalf("remote=%d local=%d", remote.calls.Load(), local.calls.Load())
	}
	if local.refs[0] != provider.DefaultRef {
		t.Fatalf("ref = %q", local.refs[0])
	}
}

func TestResolve_ConcurrentMissesFetchOnce(t *testing.T) {
	cp := &countingProvider{Provider: provider.NewFileSystemFS(testFiles(), ""), delay: 20 * time.Millisecond}
	src := newTestSource(cp, 1)
	r := NewResolver(Options{})

	var wg sync.WaitGroup
	got := make([]*Item, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = r.Resolve(context.Background(), src, "/web/client/index.html")
		}(i)
	}
	wg.Wait()

	if cp.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", cp.calls.Load())
	}
	for _, it := range got {
		if it == nil || it != got[0] {
			t.Fatal("concurrent resolves returned different items")
		}
	}
}
