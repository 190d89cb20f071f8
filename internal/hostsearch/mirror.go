package hostsearch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/engine"
)

// EventKind is the kind of a mirrored host notification.
type EventKind int

const (
	Removed EventKind = iota + 1
	Added
	Changed
	Current
)

func (k EventKind) String() string {
	switch k {
	case Removed:
		return "removed"
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Current:
		return "current"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event carries a freshly wrapped engine snapshot.
type Event struct {
	Kind   EventKind
	Engine SystemEngine
}

// SuggestResult reports how AddSuggest attached a suggestion URL.
type SuggestResult int

const (
	// SuggestApplied means the host accepted the parameter.
	SuggestApplied SuggestResult = iota + 1
	// SuggestOverridden means the host refused and the URL was recorded in
	// the mirror's override map instead.
	SuggestOverridden
	// SuggestUnknownEngine means no engine has that name or alias.
	SuggestUnknownEngine
)

func (r SuggestResult) String() string {
	switch r {
	case SuggestApplied:
		return "applied"
	case SuggestOverridden:
		return "overridden"
	case SuggestUnknownEngine:
		return "unknown-engine"
	}
	return fmt.Sprintf("SuggestResult(%d)", int(r))
}

// Descriptor holds the structural fields of an engine registered by value.
type Descriptor struct {
	Name        string `yaml:"name" json:"name" toml:"name"`
	Icon        string `yaml:"icon" json:"icon" toml:"icon"`
	Alias       string `yaml:"alias" json:"alias" toml:"alias"`
	Description string `yaml:"description" json:"description" toml:"description"`
	Method      string `yaml:"method" json:"method" toml:"method"`
	URL         string `yaml:"url" json:"url" toml:"url"`
	// Suggest is an optional suggestion URL template.
	Suggest string `yaml:"suggest" json:"suggest" toml:"suggest"`
}

// Validator pre-checks descriptor URLs before they reach the host.
type Validator interface {
	Validate(ctx context.Context, url string) error
}

// SystemEngine is a host engine snapshot plus the mirror's suggestion
// override for it, if any.
type SystemEngine struct {
	HostEngine
	SuggestOverride string
}

// QueryTemplate is the text/html URL template.
func (s SystemEngine) QueryTemplate() string { return s.URLs[TypeHTML] }

// SuggestTemplate prefers the override over the host's suggestion URL.
func (s SystemEngine) SuggestTemplate() string {
	if s.SuggestOverride != "" {
		return s.SuggestOverride
	}
	return s.URLs[TypeSuggestJSON]
}

// Site is the search form, or the query template when the host has none.
func (s SystemEngine) Site() string {
	if s.SearchForm != "" {
		return s.SearchForm
	}
	return s.QueryTemplate()
}

// Record wraps the snapshot as an engine record carrying tags.
func (s SystemEngine) Record(tags ...string) (engine.Record, error) {
	rec, err := engine.New(s.Site(), s.Name, s.QueryTemplate(), s.SuggestTemplate(), s.IconURL, tags...)
	if err != nil {
		return engine.Record{}, fmt.Errorf("wrap %q: %w", s.Name, err)
	}
	return rec, nil
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithSuggestOverride seeds the override map.
func WithSuggestOverride(name, url string) MirrorOption {
	return func(m *Mirror) { m.overrides[name] = url }
}

// Mirror adapts a Service into engine snapshots and a uniform event stream.
// It subscribes to the host once, at construction.
type Mirror struct {
	svc       Service
	validator Validator

	mu        sync.Mutex
	overrides map[string]string
	subs      map[int]func(Event)
	next      int
	dispose   func()
}

// NewMirror wraps svc. validator guards AddByURL and may be nil only if
// AddByURL is never used.
func NewMirror(svc Service, validator Validator, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		svc:       svc,
		validator: validator,
		overrides: map[string]string{},
		subs:      map[int]func(Event){},
	}
	for _, o := range opts {
		o(m)
	}
	m.dispose = svc.Subscribe(m.observe)
	return m
}

func (m *Mirror) wrap(e HostEngine) SystemEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SystemEngine{HostEngine: e, SuggestOverride: m.overrides[e.Name]}
}

func (m *Mirror) seq(engines []HostEngine) iter.Seq[SystemEngine] {
	snap := make([]SystemEngine, 0, len(engines))
	for _, e := range engines {
		snap = append(snap, m.wrap(e))
	}
	return func(yield func(SystemEngine) bool) {
		for _, e := range snap {
			if !yield(e) {
				return
			}
		}
	}
}

// Visible yields the engines visible at call time.
func (m *Mirror) Visible() iter.Seq[SystemEngine] { return m.seq(m.svc.VisibleEngines()) }

// Defaults yields the host's default engines at call time.
func (m *Mirror) Defaults() iter.Seq[SystemEngine] { return m.seq(m.svc.DefaultEngines()) }

// Get looks an engine up by name, then by alias.
func (m *Mirror) Get(nameOrAlias string) (SystemEngine, bool) {
	if e, ok := m.svc.EngineByName(nameOrAlias); ok {
		return m.wrap(e), true
	}
	if e, ok := m.svc.EngineByAlias(nameOrAlias); ok {
		return m.wrap(e), true
	}
	return SystemEngine{}, false
}

// Add registers d with the host and attaches its suggestion URL when set.
// The result is zero when d has no suggestion URL.
func (m *Mirror) Add(ctx context.Context, d Descriptor) (SuggestResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.svc.AddEngineWithDetails(d.Name, d.Icon, d.Alias, d.Description, d.Method, d.URL); err != nil {
		return 0, fmt.Errorf("add engine %q: %w", d.Name, err)
	}
	if d.Suggest == "" {
		return 0, nil
	}
	return m.AddSuggest(d.Name, d.Suggest), nil
}

// AddSuggest attaches a suggestion URL to an engine. Protected engines
// refuse the parameter; the URL is then kept in the override map and a
// synthetic Changed event is emitted so subscribers re-read the engine.
func (m *Mirror) AddSuggest(name, url string) SuggestResult {
	se, ok := m.Get(name)
	if !ok {
		return SuggestUnknownEngine
	}
	err := m.svc.AddParam(se.Name, "suggest", url, TypeSuggestJSON)
	if err == nil {
		return SuggestApplied
	}
	if errors.Is(err, ErrNotFound) {
		return SuggestUnknownEngine
	}
	log.Debug().Err(err).Str("engine", se.Name).Msg("host refused suggest param, using override")
	m.mu.Lock()
	m.overrides[se.Name] = url
	m.mu.Unlock()
	m.emit(Event{Kind: Changed, Engine: m.wrap(se.HostEngine)})
	return SuggestOverridden
}

// AddByURL validates url and asks the host to install the descriptor it
// points to. A failed validation never reaches the host.
func (m *Mirror) AddByURL(ctx context.Context, url string) error {
	if m.validator == nil {
		return errors.New("hostsearch: no descriptor validator")
	}
	if err := m.validator.Validate(ctx, url); err != nil {
		return fmt.Errorf("validate %s: %w", url, err)
	}
	log.Debug().Str("url", url).Msg("adding engine by url")
	return m.svc.AddEngine(ctx, url, DataTypeXML, false)
}

// Remove asks the host to remove the named engine.
func (m *Mirror) Remove(name string) error {
	return m.svc.RemoveEngine(name)
}

// Subscribe registers fn for mirrored events.
func (m *Mirror) Subscribe(fn func(Event)) (dispose func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Close unsubscribes from the host. Safe to call more than once.
func (m *Mirror) Close() {
	m.mu.Lock()
	dispose := m.dispose
	m.dispose = nil
	m.mu.Unlock()
	if dispose != nil {
		dispose()
	}
}

func (m *Mirror) observe(e HostEngine, subj Subject) {
	var kind EventKind
	switch subj {
	case SubjectRemoved:
		kind = Removed
	case SubjectAdded:
		kind = Added
	case SubjectChanged:
		// Hiding is how the host removes a protected default engine.
		if e.Hidden {
			kind = Removed
		} else {
			kind = Changed
		}
	case SubjectCurrent:
		kind = Current
	default:
		log.Debug().Str("subject", string(subj)).Str("engine", e.Name).Msg("ignoring host notification")
		return
	}
	m.emit(Event{Kind: kind, Engine: m.wrap(e)})
}

func (m *Mirror) emit(ev Event) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
