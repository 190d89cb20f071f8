package app

import "github.com/hyperifyio/searchspot/internal/hostsearch"

// DefaultHostEngines are the engines the in-memory host ships with. They are
// read-only: removing one hides it.
func DefaultHostEngines() []hostsearch.HostEngine {
	return []hostsearch.HostEngine{
		{
			Name:       "Google",
			Alias:      "g",
			SearchForm: "http://www.google.com/",
			Method:     "GET",
			URLs: map[string]string{
				hostsearch.TypeHTML:        "http://www.google.com/search?q={searchTerms}",
				hostsearch.TypeSuggestJSON: "http://suggestqueries.google.com/complete/search?output=firefox&q={searchTerms}",
			},
		},
		{
			Name:       "Yahoo",
			SearchForm: "http://search.yahoo.com/",
			Method:     "GET",
			URLs: map[string]string{
				hostsearch.TypeHTML:        "http://search.yahoo.com/search?p={searchTerms}",
				hostsearch.TypeSuggestJSON: "http://ff.search.yahoo.com/gossip?output=fxjson&command={searchTerms}",
			},
		},
		{
			Name:       "Amazon.com",
			SearchForm: "http://www.amazon.com/",
			Method:     "GET",
			URLs: map[string]string{
				hostsearch.TypeHTML: "http://www.amazon.com/exec/obidos/external-search/?field-keywords={searchTerms}&mode=blended",
			},
		},
		{
			Name:       "Wikipedia (en)",
			Alias:      "wp",
			SearchForm: "http://en.wikipedia.org/wiki/Special:Search",
			Method:     "GET",
			URLs: map[string]string{
				hostsearch.TypeHTML: "http://en.wikipedia.org/wiki/Special:Search?search={searchTerms}",
			},
		},
		{
			Name:       "eBay",
			SearchForm: "http://www.ebay.com/",
			Method:     "GET",
			URLs: map[string]string{
				hostsearch.TypeHTML: "http://search.ebay.com/search/search.dll?query={searchTerms}",
			},
		},
	}
}

// defaultSuggestOverrides attach suggestion endpoints that work for engines
// whose host entry lacks one.
func defaultSuggestOverrides() map[string]string {
	return map[string]string{
		"Wikipedia (en)": "http://en.wikipedia.org/w/api.php?action=opensearch&search={searchTerms}",
		"Amazon.com":     "http://completion.amazon.com/search/complete?method=completion&search-alias=aps&mkt=1&q={searchTerms}",
	}
}

// yelp needs a location in both templates, so it is only registered once an
// address is known.
var yelp = hostsearch.Descriptor{
	Name:        "Yelp",
	Icon:        "http://www.yelp.com/favicon.ico",
	Alias:       "Yelp",
	Description: "Yelp - Connecting people with great local businesses",
	Method:      "get",
	URL:         "http://www.yelp.com/search?ns=1&find_desc={searchTerms}&find_loc={searchLocation}",
	Suggest:     "http://www.yelp.com/search_suggest?prefix={searchTerms}&loc={searchLocation}",
}
