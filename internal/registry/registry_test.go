package registry

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/geo"
	"github.com/hyperifyio/searchspot/internal/hostsearch"
	"github.com/hyperifyio/searchspot/internal/store"
)

func hostDefaults() []hostsearch.HostEngine {
	return []hostsearch.HostEngine{
		{Name: "Google", SearchForm: "http://www.google.com/search", URLs: map[string]string{
			hostsearch.TypeHTML:        "http://www.google.com/search?q={searchTerms}",
			hostsearch.TypeSuggestJSON: "http://suggestqueries.google.com/complete/search?output=firefox&q={searchTerms}",
		}},
		{Name: "Wikipedia (en)", SearchForm: "http://en.wikipedia.org/wiki/Special:Search", URLs: map[string]string{
			hostsearch.TypeHTML: "http://en.wikipedia.org/w/index.php?search={searchTerms}",
		}},
	}
}

type fixture struct {
	svc    *hostsearch.MemoryService
	mirror *hostsearch.Mirror
	store  store.Store
	loc    *geo.Locator
	reg    *Registry
}

func newFixture(t *testing.T, st store.Store, host []hostsearch.HostEngine) *fixture {
	t.Helper()
	f := &fixture{svc: hostsearch.NewMemoryService(host), store: st, loc: geo.New(false, "")}
	f.mirror = hostsearch.NewMirror(f.svc, nil)
	reg, err := New(context.Background(), st, f.mirror, f.loc)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	f.reg = reg
	t.Cleanup(func() {
		reg.Close()
		f.mirror.Close()
	})
	return f
}

func mustRecord(t *testing.T, site, name string, tags ...string) engine.Record {
	t.Helper()
	rec, err := engine.New(site, name, site+"?q={searchTerms}", "", "", tags...)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return rec
}

func hosts(recs []engine.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Host)
	}
	return out
}

func TestNew_SeedsVisibleAsDefault(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), hostDefaults())
	got := hosts(f.reg.ByTag(""))
	want := []string{"http://www.google.com/", "http://en.wikipedia.org/"}
	if !slices.Equal(got, want) {
		t.Fatalf("default bucket=%v, want %v", got, want)
	}
	g, ok := f.reg.Get("Google")
	if !ok || g.SuggestionURL == "" || !g.HasTag(engine.TagDefault) {
		t.Fatalf("google=%+v ok=%v", g, ok)
	}
}

func TestNew_RebuildsFromStoreWithoutReseeding(t *testing.T) {
	st := store.NewMemory(0)
	f := newFixture(t, st, hostDefaults())
	ctx := context.Background()
	if err := f.reg.Add(ctx, mustRecord(t, "http://news.example/search", "News", "news")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.reg.RemoveTagByHost(ctx, engine.TagDefault, "http://www.google.com/"); err != nil {
		t.Fatalf("untag: %v", err)
	}
	f.reg.Close()

	again, err := New(ctx, st, f.mirror, f.loc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if got := hosts(again.ByTag("news")); !slices.Equal(got, []string{"http://news.example/"}) {
		t.Fatalf("news bucket=%v", got)
	}
	if got := hosts(again.ByTag(engine.TagDefault)); !slices.Equal(got, []string{"http://en.wikipedia.org/"}) {
		t.Fatalf("default bucket=%v", got)
	}
}

func TestNew_RebuildSyncsWithHost(t *testing.T) {
	st := store.NewMemory(0)
	f := newFixture(t, st, hostDefaults())
	ctx := context.Background()
	if err := f.reg.Add(ctx, mustRecord(t, "http://news.example/search", "News", "news")); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.reg.Close()

	// The host changes while nothing is listening.
	if err := f.svc.AddEngineWithDetails("Books", "", "", "", "get", "http://books.example/s?q={searchTerms}"); err != nil {
		t.Fatalf("host add: %v", err)
	}
	if err := f.mirror.Remove("Google"); err != nil {
		t.Fatalf("host remove: %v", err)
	}
	wpSuggest := "http://en.wikipedia.org/w/api.php?action=opensearch&search={searchTerms}"
	if got := f.mirror.AddSuggest("Wikipedia (en)", wpSuggest); got != hostsearch.SuggestOverridden {
		t.Fatalf("suggest=%s", got)
	}

	again, err := New(ctx, st, f.mirror, f.loc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, ok := again.Get("http://www.google.com/"); ok {
		t.Fatalf("engine hidden by the host survived the restart")
	}
	if got := hosts(again.ByTag(engine.TagFound)); !slices.Equal(got, []string{"http://books.example/"}) {
		t.Fatalf("found bucket=%v", got)
	}
	wp, _ := again.Get("http://en.wikipedia.org/")
	if wp.SuggestionURL != wpSuggest || !slices.Equal(wp.Tags, []string{engine.TagDefault}) {
		t.Fatalf("wikipedia=%+v", wp)
	}
	if got := hosts(again.ByTag("news")); !slices.Equal(got, []string{"http://news.example/"}) {
		t.Fatalf("locally added engine dropped: news=%v", got)
	}
	if _, err := st.Get(ctx, "http://www.google.com/"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("store still holds the hidden engine: %v", err)
	}
}

func TestAdd_OneEntryPerTagAndIdempotent(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), nil)
	ctx := context.Background()
	rec := mustRecord(t, "http://a.example/search", "A", engine.TagFound, "books", "books")
	for range 2 {
		if err := f.reg.Add(ctx, rec); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	for _, tag := range []string{engine.TagFound, "books"} {
		if got := f.reg.ByTag(tag); len(got) != 1 || got[0].Host != rec.Host {
			t.Fatalf("bucket %s=%v", tag, hosts(got))
		}
	}
	if got, _ := f.reg.Get(rec.Host); !slices.Equal(got.Tags, []string{engine.TagFound, "books"}) {
		t.Fatalf("tags=%v", got.Tags)
	}
	if got := f.reg.Tags(); !slices.Equal(got, []string{":found", "books"}) {
		t.Fatalf("tags=%v", got)
	}
}

func TestAdd_ReplacementPrunesDroppedTags(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), nil)
	ctx := context.Background()
	_ = f.reg.Add(ctx, mustRecord(t, "http://a.example/", "A", "x", "y"))
	_ = f.reg.Add(ctx, mustRecord(t, "http://b.example/", "B", "x"))
	if err := f.reg.Add(ctx, mustRecord(t, "http://a.example/", "A2", "y")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := hosts(f.reg.ByTag("x")); !slices.Equal(got, []string{"http://b.example/"}) {
		t.Fatalf("x bucket=%v", got)
	}
	if got := f.reg.ByTag("y"); len(got) != 1 || got[0].Name != "A2" {
		t.Fatalf("y bucket=%+v", got)
	}
}

func TestTagByHost(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), nil)
	ctx := context.Background()
	rec := mustRecord(t, "http://a.example/", "A", engine.TagFound)
	_ = f.reg.Add(ctx, rec)

	if err := f.reg.AddTagByHost(ctx, engine.TagDefault, rec.Host); err != nil {
		t.Fatalf("tag: %v", err)
	}
	if got := hosts(f.reg.ByTag("")); !slices.Equal(got, []string{rec.Host}) {
		t.Fatalf("default bucket=%v", got)
	}
	if err := f.reg.RemoveTagByHost(ctx, "never-set", rec.Host); err != nil {
		t.Fatalf("absent tag removal should be a no-op, got %v", err)
	}
	if err := f.reg.RemoveTagByHost(ctx, engine.TagFound, rec.Host); err != nil {
		t.Fatalf("untag: %v", err)
	}
	if got := f.reg.ByTag(engine.TagFound); got != nil {
		t.Fatalf("found bucket=%v, want nil", hosts(got))
	}
	if err := f.reg.AddTagByHost(ctx, "x", "http://nope.example/"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if err := f.reg.AddTagByHost(ctx, " ", rec.Host); !errors.Is(err, ErrEmptyTag) {
		t.Fatalf("err=%v, want ErrEmptyTag", err)
	}
	if f.reg.ByTag("unknown") != nil {
		t.Fatalf("unknown tag should be nil")
	}
}

func TestRemove_PrunesEveryBucket(t *testing.T) {
	st := store.NewMemory(0)
	f := newFixture(t, st, nil)
	ctx := context.Background()
	rec := mustRecord(t, "http://a.example/", "A", "x", "y")
	_ = f.reg.Add(ctx, rec)
	if err := f.reg.Remove(ctx, rec.Host); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.reg.ByTag("x") != nil || f.reg.ByTag("y") != nil {
		t.Fatalf("buckets not pruned")
	}
	if _, err := st.Get(ctx, rec.Host); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("store entry survives: %v", err)
	}
	if err := f.reg.Remove(ctx, rec.Host); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

type failingStore struct {
	*store.Memory
	fail bool
}

func (s *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Memory.Put(ctx, key, value)
}

func TestAdd_FailureLeavesIndexUntouched(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory(0)}
	f := newFixture(t, st, nil)
	ctx := context.Background()
	a := mustRecord(t, "http://a.example/", "A", "x")
	_ = f.reg.Add(ctx, a)

	st.fail = true
	if err := f.reg.Add(ctx, mustRecord(t, "http://b.example/", "B", "x", "z")); err == nil {
		t.Fatalf("expected store error")
	}
	if err := f.reg.AddTagByHost(ctx, "y", a.Host); err == nil {
		t.Fatalf("expected store error")
	}
	if got := hosts(f.reg.ByTag("x")); !slices.Equal(got, []string{a.Host}) {
		t.Fatalf("x bucket=%v", got)
	}
	if f.reg.ByTag("z") != nil || f.reg.ByTag("y") != nil {
		t.Fatalf("failed mutation leaked into the index")
	}
	if _, ok := f.reg.Get("http://b.example/"); ok {
		t.Fatalf("failed add is visible")
	}
	if got, _ := f.reg.Get(a.Host); !slices.Equal(got.Tags, []string{"x"}) {
		t.Fatalf("tags=%v", got.Tags)
	}
}

func TestSubmission(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), nil)
	ctx := context.Background()
	rec, _ := engine.New("http://www.yelp.com/", "Yelp",
		"http://www.yelp.com/search?ns=1&find_desc={searchTerms}&find_loc={searchLocation}", "", "", engine.TagDefault)
	_ = f.reg.Add(ctx, rec)

	f.loc.SetAddress("Seattle, WA")
	got, err := f.reg.Submission("Yelp", "pizza", "")
	if err != nil || got != "http://www.yelp.com/search?ns=1&find_desc=pizza&find_loc=" {
		t.Fatalf("disallowed location: %q %v", got, err)
	}
	f.reg.SetGeolocation(true)
	if !f.reg.Geolocation() {
		t.Fatalf("geolocation not enabled")
	}
	got, _ = f.reg.Submission(rec.Host, "pizza", "")
	if got != "http://www.yelp.com/search?ns=1&find_desc=pizza&find_loc=Seattle%2C%20WA" {
		t.Fatalf("submission=%q", got)
	}
	got, _ = f.reg.Submission("http://www.yelp.com/biz/x", "pizza", "Boston")
	if got != "http://www.yelp.com/search?ns=1&find_desc=pizza&find_loc=Boston" {
		t.Fatalf("explicit location=%q", got)
	}
	if u, err := f.reg.Submission("Nope", "pizza", ""); !errors.Is(err, ErrNotFound) || u != "" {
		t.Fatalf("unknown engine: %q %v", u, err)
	}
}

func TestFind(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), hostDefaults())
	got, err := f.reg.Find("*wiki*")
	if err != nil || len(got) != 1 || got[0].Name != "Wikipedia (en)" {
		t.Fatalf("find=%v err=%v", hosts(got), err)
	}
	if _, err := f.reg.Find("[unterminated"); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestReconcile_HostEvents(t *testing.T) {
	f := newFixture(t, store.NewMemory(0), hostDefaults())
	var mu sync.Mutex
	var changes []Change
	defer f.reg.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})()

	if err := f.svc.AddEngineWithDetails("Books", "", "", "", "get", "http://books.example/s?q={searchTerms}"); err != nil {
		t.Fatalf("host add: %v", err)
	}
	if got := hosts(f.reg.ByTag(engine.TagFound)); !slices.Equal(got, []string{"http://books.example/"}) {
		t.Fatalf("found bucket=%v", got)
	}

	// A promoted engine keeps its tags when the host reports a change.
	if got := f.mirror.AddSuggest("Wikipedia (en)", "http://en.wikipedia.org/w/api.php?action=opensearch&search={searchTerms}"); got != hostsearch.SuggestOverridden {
		t.Fatalf("suggest=%s", got)
	}
	wp, _ := f.reg.Get("http://en.wikipedia.org/")
	if !slices.Equal(wp.Tags, []string{engine.TagDefault}) || wp.SuggestionURL == "" {
		t.Fatalf("wikipedia=%+v", wp)
	}
	if f.reg.ByTag(engine.TagFound)[0].Host != "http://books.example/" || len(f.reg.ByTag(engine.TagFound)) != 1 {
		t.Fatalf("promoted engine demoted to :found")
	}

	// Removing a default engine hides it; the registry drops it.
	if err := f.mirror.Remove("Google"); err != nil {
		t.Fatalf("host remove: %v", err)
	}
	if _, ok := f.reg.Get("http://www.google.com/"); ok {
		t.Fatalf("hidden engine still registered")
	}
	if err := f.mirror.Remove("Books"); err != nil {
		t.Fatalf("host remove: %v", err)
	}
	if f.reg.ByTag(engine.TagFound) != nil {
		t.Fatalf("removed engine still in :found")
	}

	mu.Lock()
	defer mu.Unlock()
	var kinds []ChangeKind
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	want := []ChangeKind{Added, Added, Removed, Removed}
	if !slices.Equal(kinds, want) {
		t.Fatalf("changes=%v, want %v", kinds, want)
	}
}

func TestQuota_EvictsUntilWithinQuota(t *testing.T) {
	st := store.NewMemory(1000)
	f := newFixture(t, st, nil)
	ctx := context.Background()
	if err := f.reg.Add(ctx, mustRecord(t, "http://keep.example/", "Keep", engine.TagDefault)); err != nil {
		t.Fatalf("add default: %v", err)
	}
	for _, h := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		if err := f.reg.Add(ctx, mustRecord(t, "http://"+h+".example/", h, engine.TagFound)); err != nil {
			t.Fatalf("add %s: %v", h, err)
		}
	}
	u, err := st.Usage(ctx)
	if err != nil || u > 1 {
		t.Fatalf("usage=%v err=%v", u, err)
	}
	if _, ok := f.reg.Get("http://keep.example/"); !ok {
		t.Fatalf(":default engine evicted before :found ones")
	}
	if _, ok := f.reg.Get("http://a.example/"); ok {
		t.Fatalf("oldest :found engine survived")
	}
	if _, ok := f.reg.Get("http://h.example/"); !ok {
		t.Fatalf("newest engine evicted")
	}
	if f.reg.Err() != nil {
		t.Fatalf("err=%v", f.reg.Err())
	}
	for _, tag := range f.reg.Tags() {
		for _, rec := range f.reg.ByTag(tag) {
			if !rec.HasTag(tag) {
				t.Fatalf("bucket %s holds %s without the tag", tag, rec.Host)
			}
		}
	}
}

func TestQuota_Unresolvable(t *testing.T) {
	st := store.NewMemory(300)
	f := newFixture(t, st, nil)
	ctx := context.Background()
	_ = f.reg.Add(ctx, mustRecord(t, "http://a.example/", "A", engine.TagFound))

	// A foreign entry the registry does not own fills the store.
	if err := st.Put(ctx, "foreign", make([]byte, 400)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !errors.Is(f.reg.Err(), ErrQuotaUnresolvable) {
		t.Fatalf("err=%v, want ErrQuotaUnresolvable", f.reg.Err())
	}
	if len(f.reg.All()) != 0 {
		t.Fatalf("registry engines should all be evicted")
	}
	if err := f.reg.Add(ctx, mustRecord(t, "http://b.example/", "B", engine.TagFound)); !errors.Is(err, ErrQuotaUnresolvable) {
		t.Fatalf("add err=%v, want ErrQuotaUnresolvable", err)
	}
}

type fakeSource struct {
	mu   sync.Mutex
	urls []string
}

func (s *fakeSource) Visible() iter.Seq[hostsearch.SystemEngine] {
	return func(func(hostsearch.SystemEngine) bool) {}
}

func (s *fakeSource) Subscribe(func(hostsearch.Event)) func() { return func() {} }

func (s *fakeSource) AddByURL(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url == "http://example.com/broken.xml" {
		return errors.New("not xml")
	}
	s.urls = append(s.urls, url)
	return nil
}

func TestCollect_ResolvesAgainstHost(t *testing.T) {
	src := &fakeSource{}
	reg, err := New(context.Background(), store.NewMemory(0), src, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer reg.Close()
	n := reg.Collect(context.Background(), []Link{
		{Site: "http://example.com/blog/post?id=3", Engine: "os.xml"},
		{Site: "http://example.com/", Engine: "/broken.xml"},
		{Site: "not a url", Engine: "/x.xml"},
		{Site: "http://example.com/", Engine: "http://cdn.example/os.xml"},
	})
	if n != 2 {
		t.Fatalf("accepted=%d, want 2", n)
	}
	if !slices.Equal(src.urls, []string{"http://example.com/os.xml", "http://cdn.example/os.xml"}) {
		t.Fatalf("urls=%v", src.urls)
	}

	page := []byte(`<html><head><link rel="search" type="application/opensearchdescription+xml" href="/search.xml"></head></html>`)
	if n, err := reg.Discover(context.Background(), "http://example.com/a/b", page); err != nil || n != 1 {
		t.Fatalf("discover n=%d err=%v", n, err)
	}
	if src.urls[len(src.urls)-1] != "http://example.com/search.xml" {
		t.Fatalf("urls=%v", src.urls)
	}
}
