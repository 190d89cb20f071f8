// Package hostsearch talks to the host search service: the external owner of
// installed search engines. Service is the host contract, Mirror adapts it
// into engine records and a uniform event stream, and MemoryService and
// FileService are local stand-ins for the host.
package hostsearch

import (
	"context"
	"errors"
	"maps"
)

// Subject is the kind of a host engine-modified notification.
type Subject string

const (
	SubjectRemoved Subject = "engine-removed"
	SubjectAdded   Subject = "engine-added"
	SubjectChanged Subject = "engine-changed"
	SubjectCurrent Subject = "engine-current"
)

// Response types used as keys of HostEngine.URLs.
const (
	TypeHTML        = "text/html"
	TypeSuggestJSON = "application/x-suggestions+json"
)

// DataType is the descriptor format passed to AddEngine.
type DataType int

// DataTypeXML is an OpenSearch description document.
const DataTypeXML DataType = 1

var (
	// ErrNotFound is returned for unknown engine names.
	ErrNotFound = errors.New("hostsearch: engine not found")
	// ErrReadOnly is returned when mutating a protected default engine.
	ErrReadOnly = errors.New("hostsearch: engine is read-only")
	// ErrExists is returned when adding an engine whose name is taken.
	ErrExists = errors.New("hostsearch: engine already exists")
	// ErrDeclined is returned when the confirmation hook rejects an engine.
	ErrDeclined = errors.New("hostsearch: engine declined")
)

// HostEngine is a snapshot of one engine as the host reports it.
type HostEngine struct {
	Name        string            `yaml:"name" json:"name"`
	Alias       string            `yaml:"alias,omitempty" json:"alias,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Hidden      bool              `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	IconURL     string            `yaml:"icon,omitempty" json:"icon,omitempty"`
	SearchForm  string            `yaml:"searchForm,omitempty" json:"searchForm,omitempty"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty"`
	URLs        map[string]string `yaml:"urls" json:"urls"`
	ReadOnly    bool              `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
}

// Clone returns a deep copy.
func (e HostEngine) Clone() HostEngine {
	c := e
	c.URLs = maps.Clone(e.URLs)
	return c
}

func (e HostEngine) equal(o HostEngine) bool {
	return e.Name == o.Name && e.Alias == o.Alias && e.Description == o.Description &&
		e.Hidden == o.Hidden && e.IconURL == o.IconURL && e.SearchForm == o.SearchForm &&
		e.Method == o.Method && e.ReadOnly == o.ReadOnly && maps.Equal(e.URLs, o.URLs)
}

// Service is the host search-service capability.
type Service interface {
	AddEngineWithDetails(name, icon, alias, description, method, url string) error
	// AddEngine asks the host to fetch and install a remote descriptor.
	// Callers must validate url first; hosts do not fail gracefully on bad
	// URLs.
	AddEngine(ctx context.Context, url string, format DataType, confirm bool) error
	RemoveEngine(name string) error
	EngineByName(name string) (HostEngine, bool)
	EngineByAlias(alias string) (HostEngine, bool)
	DefaultEngines() []HostEngine
	VisibleEngines() []HostEngine
	// AddParam attaches a parameter to the engine URL of responseType.
	// Protected engines fail with ErrReadOnly.
	AddParam(engine, name, value, responseType string) error
	// Subscribe registers fn for engine-modified notifications.
	Subscribe(fn func(HostEngine, Subject)) (dispose func())
}
