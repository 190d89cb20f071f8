package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind selects how a provider's response is decoded.
type Kind int

const (
	// KindSuggest is the OpenSearch suggestions shape [term, [s, ...]].
	KindSuggest Kind = iota
	// KindMatch is KindSuggest where each suggestion is a page title that
	// resolves to BaseURL + title.
	KindMatch
	// KindHTML is {"body": "<html fragment>"}, passed through untouched.
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindSuggest:
		return "suggest"
	case KindMatch:
		return "match"
	case KindHTML:
		return "html"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suggest":
		return KindSuggest, nil
	case "match":
		return KindMatch, nil
	case "html":
		return KindHTML, nil
	}
	return 0, fmt.Errorf("unknown provider kind %q", s)
}

// Provider describes the response shape of one suggestion endpoint.
type Provider struct {
	Kind    Kind
	BaseURL string
}

// Batch types as seen by the presentation layer.
const (
	TypeSuggest = "suggest"
	TypeMatch   = "match"
)

// Type is the batch type the provider's results carry. HTML fragments are
// reported as suggestions.
func (p Provider) Type() string {
	if p.Kind == KindMatch {
		return TypeMatch
	}
	return TypeSuggest
}

// DefaultProviders are the providers whose shape differs from plain
// suggestions, keyed by engine host.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"http://en.wikipedia.org/": {Kind: KindMatch, BaseURL: "http://en.wikipedia.org/wiki/"},
		"http://www.yelp.com/":     {Kind: KindHTML},
	}
}

// Result is one normalized suggestion.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Batch is the outcome of one provider for one term.
type Batch struct {
	// Name is the engine host.
	Name    string   `json:"name"`
	Terms   string   `json:"terms"`
	Type    string   `json:"type"`
	Results []Result `json:"results,omitempty"`
	// HTML holds an HTML-fragment provider's body verbatim.
	HTML  string `json:"html,omitempty"`
	Round string `json:"round,omitempty"`
	// Kind is the provider shape; KindHTML batches carry HTML, possibly
	// empty, instead of Results.
	Kind Kind `json:"-"`
}

// ErrShape is returned when a body does not have the provider's shape.
var ErrShape = errors.New("suggest: unexpected response shape")

// Normalize decodes body once according to p. At most limit suggestions are
// kept, not counting entries equal to term.
func Normalize(p Provider, body []byte, term string, limit int) (Batch, error) {
	b := Batch{Terms: term, Type: p.Type(), Kind: p.Kind}
	if p.Kind == KindHTML {
		var doc struct {
			Body *string `json:"body"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return Batch{}, fmt.Errorf("%w: %v", ErrShape, err)
		}
		if doc.Body == nil {
			return Batch{}, fmt.Errorf("%w: missing body", ErrShape)
		}
		b.HTML = *doc.Body
		return b, nil
	}

	var doc []json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	if len(doc) < 2 {
		return Batch{}, fmt.Errorf("%w: %d elements", ErrShape, len(doc))
	}
	var suggestions []string
	if err := json.Unmarshal(doc[1], &suggestions); err != nil {
		return Batch{}, fmt.Errorf("%w: suggestions: %v", ErrShape, err)
	}
	b.Results = make([]Result, 0, min(limit, len(suggestions)))
	for _, s := range suggestions {
		if len(b.Results) >= limit {
			break
		}
		if SameTerm(s, term) {
			continue
		}
		r := Result{Title: s}
		if p.Kind == KindMatch {
			r.URL = p.BaseURL + s
		}
		b.Results = append(b.Results, r)
	}
	return b, nil
}

// SameTerm compares terms after Unicode normalization, so composed and
// decomposed spellings of the same text are equal.
func SameTerm(a, b string) bool {
	return a == b || norm.NFC.String(a) == norm.NFC.String(b)
}
