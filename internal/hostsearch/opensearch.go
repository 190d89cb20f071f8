package hostsearch

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrBadDescriptor is returned for descriptors missing a name or a
// text/html URL.
var ErrBadDescriptor = errors.New("hostsearch: invalid opensearch descriptor")

type osDescriptor struct {
	XMLName     xml.Name `xml:"OpenSearchDescription"`
	ShortName   string   `xml:"ShortName"`
	Description string   `xml:"Description"`
	Image       []string `xml:"Image"`
	SearchForm  string   `xml:"SearchForm"`
	URLs        []struct {
		Type     string `xml:"type,attr"`
		Method   string `xml:"method,attr"`
		Template string `xml:"template,attr"`
	} `xml:"Url"`
}

// ParseDescriptor reads the fields the stand-in hosts need from an
// OpenSearch description document.
func ParseDescriptor(b []byte) (HostEngine, error) {
	var d osDescriptor
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(&d); err != nil {
		return HostEngine{}, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	e := HostEngine{
		Name:        strings.TrimSpace(d.ShortName),
		Description: strings.TrimSpace(d.Description),
		SearchForm:  strings.TrimSpace(d.SearchForm),
		URLs:        map[string]string{},
	}
	for _, img := range d.Image {
		if img = strings.TrimSpace(img); img != "" {
			e.IconURL = img
			break
		}
	}
	for _, u := range d.URLs {
		typ := strings.ToLower(strings.TrimSpace(u.Type))
		tpl := strings.TrimSpace(u.Template)
		if typ == "" || tpl == "" {
			continue
		}
		if _, dup := e.URLs[typ]; dup {
			continue
		}
		e.URLs[typ] = tpl
		if typ == TypeHTML {
			e.Method = strings.ToUpper(strings.TrimSpace(u.Method))
		}
	}
	if e.Name == "" || e.URLs[TypeHTML] == "" {
		return HostEngine{}, ErrBadDescriptor
	}
	if e.Method == "" {
		e.Method = "GET"
	}
	return e, nil
}
