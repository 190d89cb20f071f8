package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func backends(t *testing.T, quota int64) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "engines.json"), quota)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	s, err := OpenSQLite(context.Background(), filepath.Join(dir, "engines.db"), quota)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return map[string]Store{"memory": NewMemory(quota), "file": f, "sqlite": s}
}

func TestStore_PutGetDeleteKeepsOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"http://a/", "http://b/", "http://c/"} {
				if err := s.Put(ctx, k, []byte(`{"host":"`+k+`"}`)); err != nil {
					t.Fatalf("put %s: %v", k, err)
				}
			}
			// overwrite keeps position
			if err := s.Put(ctx, "http://a/", []byte(`{"host":"http://a/","name":"A"}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if err := s.Delete(ctx, "http://b/"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			keys, err := s.Keys(ctx)
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if got := strings.Join(keys, " "); got != "http://a/ http://c/" {
				t.Fatalf("keys=%q", got)
			}
			v, err := s.Get(ctx, "http://a/")
			if err != nil || !strings.Contains(string(v), `"name":"A"`) {
				t.Fatalf("get a: %q %v", v, err)
			}
			if _, err := s.Get(ctx, "http://b/"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get deleted: err=%v", err)
			}
			if err := s.Delete(ctx, "http://missing/"); err != nil {
				t.Fatalf("deleting a missing key should be a no-op: %v", err)
			}
		})
	}
}

func TestStore_OverQuotaNotifies(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 64) {
		t.Run(name, func(t *testing.T) {
			var calls int
			dispose := s.OnOverQuota(func() { calls++ })
			if err := s.Put(ctx, "k1", []byte(strings.Repeat("x", 20))); err != nil {
				t.Fatalf("put: %v", err)
			}
			if calls != 0 {
				t.Fatalf("notified while under quota")
			}
			if err := s.Put(ctx, "k2", []byte(strings.Repeat("y", 60))); err != nil {
				t.Fatalf("put: %v", err)
			}
			if calls != 1 {
				t.Fatalf("calls=%d, want 1", calls)
			}
			u, err := s.Usage(ctx)
			if err != nil || u <= 1 {
				t.Fatalf("usage=%v err=%v, want >1", u, err)
			}
			dispose()
			dispose()
			_ = s.Put(ctx, "k3", []byte("z"))
			if calls != 1 {
				t.Fatalf("disposed watcher still called")
			}
			_ = s.Delete(ctx, "k2")
			if u, _ := s.Usage(ctx); u > 1 {
				t.Fatalf("usage after delete=%v", u)
			}
		})
	}
}

func TestFile_ReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "engines.json")
	f, err := OpenFile(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.Put(ctx, "b", []byte("2"))
	_ = f.Put(ctx, "a", []byte("1"))

	again, err := OpenFile(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	keys, _ := again.Keys(ctx)
	if strings.Join(keys, ",") != "b,a" {
		t.Fatalf("reloaded keys=%v", keys)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "redis"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSQLite_FailedPutLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "engines.db"), 1024)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	orig := usageQuery
	usageQuery = `SELECT size FROM no_such_table`
	t.Cleanup(func() { usageQuery = orig })

	if err := s.Put(ctx, "http://a/", []byte("x")); err == nil {
		t.Fatalf("expected put to fail when usage cannot be measured")
	}
	if _, err := s.Get(ctx, "http://a/"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after failed put: err=%v, want ErrNotFound", err)
	}
	usageQuery = orig
	if err := s.Put(ctx, "http://a/", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
}
