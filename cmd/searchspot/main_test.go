package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setup writes a config file into a fresh directory and points the default
// config location there too, so nothing from the user's machine leaks in.
func setup(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	p := filepath.Join(dir, "searchspot.yaml")
	content := fmt.Sprintf("cache:\n  dir: %s\n%s", filepath.Join(dir, "cache"), yaml)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestEngines_ListsBuiltInDefaults(t *testing.T) {
	cfg := setup(t, "store:\n  driver: memory\n")
	out, err := run(t, "", "engines", "--config", cfg)
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	for _, want := range []string{"HOST", "http://en.wikipedia.org/", "Wikipedia (en)", ":default"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestEngines_Match(t *testing.T) {
	cfg := setup(t, "store:\n  driver: memory\n")
	out, err := run(t, "", "engines", "--config", cfg, "--match", "*wiki*", "--json")
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"host":"http://en.wikipedia.org/"`) {
		t.Fatalf("match output:\n%s", out)
	}
}

func TestSubmit_ExpandsTemplate(t *testing.T) {
	cfg := setup(t, "store:\n  driver: memory\n")
	out, err := run(t, "", "submit", "--config", cfg, "Wikipedia (en)", "json", "lines")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.TrimSpace(out) != "http://en.wikipedia.org/wiki/Special:Search?search=json%20lines" {
		t.Fatalf("submit output=%q", out)
	}
}

func TestTag_PersistsBetweenRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := setup(t, fmt.Sprintf("store:\n  driver: file\n  path: %s\n", filepath.Join(dir, "engines.json")))
	if _, err := run(t, "", "tag", "add", "work", "Google", "--config", cfg); err != nil {
		t.Fatalf("tag add: %v", err)
	}
	out, err := run(t, "", "engines", "--tag", "work", "--json", "--config", cfg)
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "http://www.google.com/") {
		t.Fatalf("work bucket:\n%s", out)
	}
	if _, err := run(t, "", "tag", "rm", "work", "http://www.google.com/", "--config", cfg); err != nil {
		t.Fatalf("tag rm: %v", err)
	}
	out, _ = run(t, "", "tags", "--config", cfg)
	if strings.Contains(out, "work") {
		t.Fatalf("tag survived removal:\n%s", out)
	}
}

func TestRemove_UnknownEngine(t *testing.T) {
	cfg := setup(t, "store:\n  driver: memory\n")
	if _, err := run(t, "", "remove", "nope", "--config", cfg); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}

func localEngineConfig(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/x-suggestions+json")
		fmt.Fprintf(w, `[%q,[%q]]`, q, q+"lang")
	}))
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	return setup(t, fmt.Sprintf(`store:
  driver: memory
catalog: %s
suggest:
  delay: 10ms
engines:
  - name: Local
    url: %s/search?q={searchTerms}
    suggest: %s/suggest?q={searchTerms}
`, filepath.Join(dir, "catalog.yaml"), srv.URL, srv.URL))
}

func TestSuggest_PrintsBatches(t *testing.T) {
	cfg := localEngineConfig(t)
	out, err := run(t, "", "suggest", "--config", cfg, "go")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if !strings.Contains(out, `"event":"add"`) || !strings.Contains(out, `"title":"golang"`) {
		t.Fatalf("suggest output:\n%s", out)
	}
}

func TestType_DebouncedSession(t *testing.T) {
	cfg := localEngineConfig(t)
	out, err := run(t, "g\ngo\n", "type", "--config", cfg)
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	if !strings.Contains(out, `"event":"setEngines"`) || !strings.Contains(out, `"event":"setTerms"`) {
		t.Fatalf("session output lacks engine or term events:\n%s", out)
	}
	if !strings.Contains(out, `"title":"golang"`) {
		t.Fatalf("no suggestion batch for the final term:\n%s", out)
	}
}
