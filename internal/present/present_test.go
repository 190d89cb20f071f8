package present

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/registry"
	"github.com/hyperifyio/searchspot/internal/suggest"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)
	rec, _ := engine.New("http://a.example/", "A", "http://a.example/?q={searchTerms}", "", "", engine.TagDefault)
	j.AddEngine(rec)
	j.SetTerms("json")
	j.Results(suggest.Batch{Name: rec.Host, Terms: "json", Type: suggest.TypeSuggest, Results: []suggest.Result{{Title: "jsonp"}}})
	j.Results(suggest.Batch{Name: "http://www.yelp.com/", Terms: "json", Type: suggest.TypeSuggest, Kind: suggest.KindHTML, HTML: "<ul></ul>"})
	// An empty fragment is still an html event.
	j.Results(suggest.Batch{Name: "http://www.yelp.com/", Terms: "jsonx", Type: suggest.TypeSuggest, Kind: suggest.KindHTML})

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 5 {
		t.Fatalf("lines=%d, want 5", len(lines))
	}
	var events []string
	for _, l := range lines {
		events = append(events, l["event"].(string))
	}
	if strings.Join(events, ",") != "addEngine,setTerms,add,html,html" {
		t.Fatalf("events=%v", events)
	}
	data := lines[0]["data"].(map[string]any)
	if data["host"] != "http://a.example/" || data["suggestionURL"] != "" {
		t.Fatalf("engine data=%v", data)
	}
	batch := lines[2]["data"].(map[string]any)
	if batch["type"] != "suggest" || batch["terms"] != "json" {
		t.Fatalf("batch data=%v", batch)
	}
}

type fakeChanges struct {
	engines []engine.Record
	fn      func(registry.Change)
}

func (f *fakeChanges) ByTag(string) []engine.Record { return f.engines }

func (f *fakeChanges) Subscribe(fn func(registry.Change)) func() {
	f.fn = fn
	return func() { f.fn = nil }
}

type recordingSurface struct {
	calls []string
}

func (r *recordingSurface) AddEngine(e engine.Record) { r.calls = append(r.calls, "add "+e.Host) }
func (r *recordingSurface) RemoveEngine(e engine.Record) { r.calls = append(r.calls, "remove "+e.Host) }
func (r *recordingSurface) SetEngines(es []engine.Record) { r.calls = append(r.calls, "set") }
func (r *recordingSurface) SetTerms(string) {}
func (r *recordingSurface) Results(suggest.Batch) {}

func TestBind_ForwardsChanges(t *testing.T) {
	a, _ := engine.New("http://a.example/", "A", "", "", "")
	c := &fakeChanges{engines: []engine.Record{a}}
	s := &recordingSurface{}
	dispose := Bind(c, s)
	c.fn(registry.Change{Kind: registry.Added, Engine: a})
	c.fn(registry.Change{Kind: registry.Removed, Engine: a})
	dispose()
	if c.fn != nil {
		t.Fatalf("dispose did not unsubscribe")
	}
	want := "set,add http://a.example/,remove http://a.example/"
	if got := strings.Join(s.calls, ","); got != want {
		t.Fatalf("calls=%s, want %s", got, want)
	}
}

func TestLog_WritesStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: zerolog.New(&buf)}
	l.Results(suggest.Batch{Name: "http://a.example/", Terms: "x", Type: "suggest", Results: []suggest.Result{{Title: "xy"}}})
	if !strings.Contains(buf.String(), `"results":["xy"]`) || !strings.Contains(buf.String(), `"host":"http://a.example/"`) {
		t.Fatalf("log=%s", buf.String())
	}
}
