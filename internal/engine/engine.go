package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reserved tags.
const (
	// TagDefault groups the engines promoted to the primary search bar.
	TagDefault = ":default"
	// TagFound groups engines discovered from pages or the host that the user
	// has not promoted yet.
	TagFound = ":found"
)

// Template placeholders understood in QueryURL and SuggestionURL.
const (
	PlaceholderTerms    = "{searchTerms}"
	PlaceholderLocation = "{searchLocation}"
)

// ErrNoHost is returned when a record cannot be given an identity.
var ErrNoHost = errors.New("engine: missing host")

// Record describes one search provider. Host is the identity key: two
// records may share a Name but never a Host.
type Record struct {
	Host          string
	Name          string
	Site          string
	QueryURL      string
	SuggestionURL string
	Icon          string
	Tags          []string
}

// New synthesizes a record from explicit fields. The host is derived from
// site.
func New(site, name, query, suggestion, icon string, tags ...string) (Record, error) {
	host, err := CanonicalHost(site)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Host:          host,
		Name:          name,
		Site:          site,
		QueryURL:      query,
		SuggestionURL: suggestion,
		Icon:          icon,
		Tags:          append([]string(nil), tags...),
	}, nil
}

// CanonicalHost reduces a site URL to its origin with a trailing slash, e.g.
// "http://google.com/search?q=" becomes "http://google.com/".
func CanonicalHost(site string) (string, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return "", ErrNoHost
	}
	u, err := url.Parse(site)
	if err != nil {
		return "", fmt.Errorf("parse site: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrNoHost, site)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + "/", nil
}

// HasTag reports whether tag is set on the record.
func (r Record) HasTag(tag string) bool {
	return indexOf(r.Tags, tag) >= 0
}

// AppendTag adds tag at the end of the tag list unless already present.
func (r *Record) AppendTag(tag string) {
	if r.HasTag(tag) {
		return
	}
	r.Tags = append(r.Tags, tag)
}

// RemoveTag drops tag keeping the order of the remaining tags. Missing tags
// are ignored.
func (r *Record) RemoveTag(tag string) {
	i := indexOf(r.Tags, tag)
	if i < 0 {
		return
	}
	tags := make([]string, 0, len(r.Tags)-1)
	tags = append(tags, r.Tags[:i]...)
	r.Tags = append(tags, r.Tags[i+1:]...)
}

// Clone returns a copy that shares no mutable state with r.
func (r Record) Clone() Record {
	c := r
	c.Tags = append([]string(nil), r.Tags...)
	return c
}

// Submission resolves the search URL for terms and location.
func (r Record) Submission(terms, location string) string {
	return Expand(r.QueryURL, terms, location)
}

// Suggestion resolves the suggestion URL, or "" when the engine has none.
func (r Record) Suggestion(terms, location string) string {
	if r.SuggestionURL == "" {
		return ""
	}
	return Expand(r.SuggestionURL, terms, location)
}

// Expand substitutes both placeholders in template with escaped values.
func Expand(template, terms, location string) string {
	out := strings.ReplaceAll(template, PlaceholderLocation, EscapeComponent(location))
	return strings.ReplaceAll(out, PlaceholderTerms, EscapeComponent(terms))
}

// EscapeComponent escapes s for use anywhere inside a URL, encoding spaces as
// %20 rather than '+'.
func EscapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func indexOf(tags []string, tag string) int {
	for i, t := range tags {
		if t == tag {
			return i
		}
	}
	return -1
}
