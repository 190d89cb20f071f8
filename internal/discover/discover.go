// Package discover finds OpenSearch descriptors advertised by web pages and
// checks that a descriptor URL really serves XML before it is handed to the
// host search service.
package discover

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hyperifyio/searchspot/internal/fetch"
)

// DescriptorType is the link type pages use to advertise a descriptor.
const DescriptorType = "application/opensearchdescription+xml"

// XMLContentTypes are the response types accepted for descriptor documents.
var XMLContentTypes = []string{DescriptorType, "application/xml", "text/xml"}

// ErrNotXML is returned when a descriptor URL answers with something other
// than an XML document.
var ErrNotXML = errors.New("descriptor is not an xml document")

// Links returns the absolute descriptor URLs advertised by page, e.g.
//
//	<link rel="search" type="application/opensearchdescription+xml" href="/os.xml">
//
// Relative hrefs are resolved against the page's origin. Duplicates are
// dropped, order is document order.
func Links(pageURL string, page []byte) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	seen := map[string]struct{}{}
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "link") {
			if href, ok := descriptorHref(n); ok {
				if ref, err := url.Parse(href); err == nil {
					abs := origin.ResolveReference(ref).String()
					if _, dup := seen[abs]; !dup {
						seen[abs] = struct{}{}
						out = append(out, abs)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func descriptorHref(n *html.Node) (string, bool) {
	var rel, typ, href string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "rel":
			rel = a.Val
		case "type":
			typ = a.Val
		case "href":
			href = a.Val
		}
	}
	if !hasToken(rel, "search") || !strings.EqualFold(strings.TrimSpace(typ), DescriptorType) {
		return "", false
	}
	href = strings.TrimSpace(href)
	return href, href != ""
}

func hasToken(list, tok string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, tok) {
			return true
		}
	}
	return false
}

// Validator confirms a descriptor URL yields a successful XML response.
type Validator struct {
	Client *fetch.Client
}

// Validate fetches url and checks status, content type and that the body
// opens with an XML element. Any failure is returned; nil means the URL is
// safe to pass on.
func (v Validator) Validate(ctx context.Context, rawURL string) error {
	if v.Client == nil {
		return errors.New("descriptor validator has no client")
	}
	body, _, err := v.Client.Get(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("fetch descriptor: %w", err)
	}
	return checkXML(body)
}

func checkXML(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return ErrNotXML
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotXML, err)
		}
		switch tok.(type) {
		case xml.StartElement:
			return nil
		case xml.CharData:
			if len(bytes.TrimSpace(tok.(xml.CharData))) > 0 {
				return ErrNotXML
			}
		}
	}
}
