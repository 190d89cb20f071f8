package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, string(b)
}

func TestComplete(t *testing.T) {
	got := complete([]string{"Go", "golang", "json", "gopher"}, "go", 2)
	if strings.Join(got, ",") != "Go,golang" {
		t.Fatalf("complete=%v", got)
	}
	if got := complete(nil, "x", 5); got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
}

func TestSuggestEndpoint(t *testing.T) {
	srv := httptest.NewServer(newMux([]string{"golang", "gopher", "json"}))
	defer srv.Close()

	resp, body := get(t, srv, "/suggest?q=go")
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-suggestions+json" {
		t.Fatalf("content-type=%q", ct)
	}
	var payload []json.RawMessage
	if err := json.Unmarshal([]byte(body), &payload); err != nil || len(payload) != 2 {
		t.Fatalf("payload=%s err=%v", body, err)
	}
	var list []string
	if err := json.Unmarshal(payload[1], &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(list, ",") != "golang,gopher" {
		t.Fatalf("list=%v", list)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	srv := httptest.NewServer(newMux([]string{"a<b", "ab"}))
	defer srv.Close()

	_, body := get(t, srv, "/html?prefix=a")
	var out struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Body != "<ul><li>a&lt;b</li><li>ab</li></ul>" {
		t.Fatalf("body=%q", out.Body)
	}
}

func TestDescriptorAdvertised(t *testing.T) {
	srv := httptest.NewServer(newMux(defaultWords))
	defer srv.Close()

	_, page := get(t, srv, "/")
	if !strings.Contains(page, `rel="search"`) || !strings.Contains(page, `href="/opensearch.xml"`) {
		t.Fatalf("page does not advertise the descriptor: %s", page)
	}
	resp, desc := get(t, srv, "/opensearch.xml")
	if ct := resp.Header.Get("Content-Type"); ct != "application/opensearchdescription+xml" {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(desc, srv.URL+"/suggest?q={searchTerms}") {
		t.Fatalf("descriptor templates do not point at the server: %s", desc)
	}
	if resp, _ := get(t, srv, "/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}
