// Command suggest-stub serves suggestion endpoints, an OpenSearch descriptor
// and a page advertising it, for trying searchspot without network access.
package main

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultWords = []string{
	"go", "golang", "gopher", "goroutine", "json", "jsonline", "json validator",
	"jsonp", "search", "searchspot", "suggest", "suggestion", "opensearch",
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	addr := strings.TrimSpace(os.Getenv("ADDR"))
	if addr == "" {
		addr = ":8082"
	}
	words := defaultWords
	// One suggestion per line.
	if p := strings.TrimSpace(os.Getenv("WORDS_FILE")); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("read words")
		}
		words = nil
		for _, line := range strings.Split(string(b), "\n") {
			if w := strings.TrimSpace(line); w != "" {
				words = append(words, w)
			}
		}
	}
	log.Info().Str("addr", addr).Int("words", len(words)).Msg("suggest stub listening")
	srv := &http.Server{Addr: addr, Handler: newMux(words), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

// complete returns up to limit words starting with prefix, case-insensitive.
// The prefix itself comes first when it is a known word.
func complete(words []string, prefix string, limit int) []string {
	p := strings.ToLower(prefix)
	out := []string{}
	for _, w := range words {
		if len(out) >= limit {
			break
		}
		if strings.HasPrefix(strings.ToLower(w), p) {
			out = append(out, w)
		}
	}
	return out
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func newMux(words []string) *http.ServeMux {
	mux := http.NewServeMux()

	suggestions := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/x-suggestions+json")
		_ = json.NewEncoder(w).Encode([]any{q, complete(words, q, 10)})
	}
	mux.HandleFunc("/suggest", suggestions)
	mux.HandleFunc("/match", suggestions)

	// Answers like a provider that returns an HTML fragment wrapped in JSON.
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString("<ul>")
		for _, s := range complete(words, q, 5) {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(s))
		}
		b.WriteString("</ul>")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"body": b.String()})
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h1>Results for %s</h1></body></html>", html.EscapeString(r.URL.Query().Get("q")))
	})

	mux.HandleFunc("/opensearch.xml", func(w http.ResponseWriter, r *http.Request) {
		o := origin(r)
		w.Header().Set("Content-Type", "application/opensearchdescription+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<OpenSearchDescription xmlns="http://a9.com/-/spec/opensearch/1.1/">
  <ShortName>Stub</ShortName>
  <Description>Local suggestion stub</Description>
  <Image width="16" height="16">%[1]s/favicon.ico</Image>
  <Url type="text/html" method="get" template="%[1]s/search?q={searchTerms}"/>
  <Url type="application/x-suggestions+json" template="%[1]s/suggest?q={searchTerms}"/>
  <SearchForm>%[1]s/</SearchForm>
</OpenSearchDescription>
`, o)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!doctype html>
<html><head>
<title>Stub</title>
<link rel="search" type="application/opensearchdescription+xml" href="/opensearch.xml" title="Stub">
</head><body><form action="/search"><input name="q"></form></body></html>
`)
	})

	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Descriptor URLs that fail validation, for exercising add-url errors.
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not a descriptor</html>")
	})
	return mux
}
