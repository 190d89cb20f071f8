package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the version written by Marshal.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned by Unmarshal for records written by a
// newer schema.
var ErrUnsupportedSchema = errors.New("engine: unsupported schema version")

// wireRecord is the persisted shape. Field names are shared with the
// presentation layer, so they must stay stable.
type wireRecord struct {
	Version       int      `json:"v"`
	Name          string   `json:"name"`
	Site          string   `json:"site"`
	Host          string   `json:"host"`
	Tags          []string `json:"tags"`
	QueryURL      string   `json:"queryURL"`
	SuggestionURL string   `json:"suggestionURL"`
	Icon          string   `json:"icon"`
}

// Marshal serializes r in the persisted format.
func Marshal(r Record) ([]byte, error) {
	if r.Host == "" {
		return nil, ErrNoHost
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(wireRecord{
		Version:       SchemaVersion,
		Name:          r.Name,
		Site:          r.Site,
		Host:          r.Host,
		Tags:          tags,
		QueryURL:      r.QueryURL,
		SuggestionURL: r.SuggestionURL,
		Icon:          r.Icon,
	})
}

// Unmarshal parses a persisted record. Records without a version field are
// read as version 1.
func Unmarshal(b []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return Record{}, fmt.Errorf("decode engine: %w", err)
	}
	if w.Version > SchemaVersion {
		return Record{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, w.Version)
	}
	if w.Host == "" {
		return Record{}, ErrNoHost
	}
	return Record{
		Host:          w.Host,
		Name:          w.Name,
		Site:          w.Site,
		QueryURL:      w.QueryURL,
		SuggestionURL: w.SuggestionURL,
		Icon:          w.Icon,
		Tags:          append([]string(nil), w.Tags...),
	}, nil
}

// MarshalJSON lets records be embedded directly in presentation events.
func (r Record) MarshalJSON() ([]byte, error) {
	return Marshal(r)
}
