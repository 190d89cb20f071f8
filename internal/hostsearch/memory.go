package hostsearch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Fetcher downloads descriptor documents. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// MemoryOption configures a MemoryService.
type MemoryOption func(*MemoryService)

// WithFetcher sets the client AddEngine downloads descriptors with.
func WithFetcher(f Fetcher) MemoryOption {
	return func(m *MemoryService) { m.fetcher = f }
}

// WithConfirm installs the hook consulted by AddEngine when confirm is set.
func WithConfirm(fn func(HostEngine) bool) MemoryOption {
	return func(m *MemoryService) { m.confirm = fn }
}

// MemoryService is an in-process host. Default engines are read-only:
// removing one hides it, user engines are deleted outright. Notifications are
// delivered synchronously after the service lock is released.
type MemoryService struct {
	mu      sync.Mutex
	engines []HostEngine
	current string
	fetcher Fetcher
	confirm func(HostEngine) bool
	subs    map[int]func(HostEngine, Subject)
	next    int
	// mutated runs after every change made through the Service methods.
	mutated func()
}

// NewMemoryService returns a host whose default engines are defaults, all
// marked read-only.
func NewMemoryService(defaults []HostEngine, opts ...MemoryOption) *MemoryService {
	engines := make([]HostEngine, 0, len(defaults))
	for _, e := range defaults {
		e = e.Clone()
		e.ReadOnly = true
		engines = append(engines, e)
	}
	return newMemoryService(engines, opts...)
}

func newMemoryService(engines []HostEngine, opts ...MemoryOption) *MemoryService {
	m := &MemoryService{engines: engines, subs: map[int]func(HostEngine, Subject){}}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MemoryService) indexLocked(name string) int {
	for i := range m.engines {
		if m.engines[i].Name == name {
			return i
		}
	}
	return -1
}

func (m *MemoryService) notify(e HostEngine, subj Subject) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(HostEngine, Subject), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(e.Clone(), subj)
	}
}

func (m *MemoryService) changed(e HostEngine, subj Subject) {
	if m.mutated != nil {
		m.mutated()
	}
	m.notify(e, subj)
}

func (m *MemoryService) add(e HostEngine) error {
	m.mu.Lock()
	if m.indexLocked(e.Name) >= 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, e.Name)
	}
	m.engines = append(m.engines, e.Clone())
	m.mu.Unlock()
	m.changed(e, SubjectAdded)
	return nil
}

func (m *MemoryService) AddEngineWithDetails(name, icon, alias, description, method, rawURL string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(rawURL) == "" {
		return errors.New("hostsearch: engine needs a name and a url")
	}
	if method == "" {
		method = "GET"
	}
	return m.add(HostEngine{
		Name:        name,
		Alias:       alias,
		Description: description,
		IconURL:     icon,
		Method:      strings.ToUpper(method),
		URLs:        map[string]string{TypeHTML: rawURL},
	})
}

func (m *MemoryService) AddEngine(ctx context.Context, rawURL string, format DataType, confirm bool) error {
	if format != DataTypeXML {
		return fmt.Errorf("hostsearch: unsupported descriptor format %d", format)
	}
	if m.fetcher == nil {
		return errors.New("hostsearch: no fetcher configured")
	}
	body, _, err := m.fetcher.Get(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("fetch descriptor: %w", err)
	}
	e, err := ParseDescriptor(body)
	if err != nil {
		return err
	}
	if confirm && m.confirm != nil && !m.confirm(e.Clone()) {
		return fmt.Errorf("%w: %s", ErrDeclined, e.Name)
	}
	return m.add(e)
}

func (m *MemoryService) RemoveEngine(name string) error {
	m.mu.Lock()
	i := m.indexLocked(name)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if m.current == name {
		m.current = ""
	}
	if m.engines[i].ReadOnly {
		if m.engines[i].Hidden {
			m.mu.Unlock()
			return nil
		}
		m.engines[i].Hidden = true
		e := m.engines[i].Clone()
		m.mu.Unlock()
		m.changed(e, SubjectChanged)
		return nil
	}
	e := m.engines[i]
	m.engines = append(m.engines[:i:i], m.engines[i+1:]...)
	m.mu.Unlock()
	m.changed(e, SubjectRemoved)
	return nil
}

func (m *MemoryService) EngineByName(name string) (HostEngine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(name); i >= 0 {
		return m.engines[i].Clone(), true
	}
	return HostEngine{}, false
}

func (m *MemoryService) EngineByAlias(alias string) (HostEngine, bool) {
	if alias == "" {
		return HostEngine{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.engines {
		if e.Alias == alias {
			return e.Clone(), true
		}
	}
	return HostEngine{}, false
}

func (m *MemoryService) DefaultEngines() []HostEngine {
	return m.filter(func(e HostEngine) bool { return e.ReadOnly })
}

func (m *MemoryService) VisibleEngines() []HostEngine {
	return m.filter(func(e HostEngine) bool { return !e.Hidden })
}

func (m *MemoryService) filter(keep func(HostEngine) bool) []HostEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HostEngine
	for _, e := range m.engines {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// AddParam appends name=value to the engine's responseType URL. When the
// engine has no URL of that type, value itself becomes that URL.
func (m *MemoryService) AddParam(engine, name, value, responseType string) error {
	m.mu.Lock()
	i := m.indexLocked(engine)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, engine)
	}
	e := &m.engines[i]
	if e.ReadOnly {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReadOnly, engine)
	}
	if e.URLs == nil {
		e.URLs = map[string]string{}
	}
	if tpl, ok := e.URLs[responseType]; ok && tpl != "" {
		sep := "?"
		if strings.Contains(tpl, "?") {
			sep = "&"
		}
		e.URLs[responseType] = tpl + sep + url.QueryEscape(name) + "=" + url.QueryEscape(value)
	} else {
		e.URLs[responseType] = value
	}
	snap := e.Clone()
	m.mu.Unlock()
	m.changed(snap, SubjectChanged)
	return nil
}

// SetCurrent makes name the current engine.
func (m *MemoryService) SetCurrent(name string) error {
	m.mu.Lock()
	i := m.indexLocked(name)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m.current = name
	e := m.engines[i].Clone()
	m.mu.Unlock()
	m.changed(e, SubjectCurrent)
	return nil
}

// Current returns the current engine name, "" when none is set.
func (m *MemoryService) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MemoryService) Subscribe(fn func(HostEngine, Subject)) (dispose func()) {
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

func (m *MemoryService) snapshot() ([]HostEngine, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HostEngine, 0, len(m.engines))
	for _, e := range m.engines {
		out = append(out, e.Clone())
	}
	return out, m.current
}

// replace swaps the engine list for next and notifies the difference, keyed
// by name. It does not run the mutation hook.
func (m *MemoryService) replace(next []HostEngine, current string) {
	type note struct {
		e    HostEngine
		subj Subject
	}
	m.mu.Lock()
	old := make(map[string]HostEngine, len(m.engines))
	for _, e := range m.engines {
		old[e.Name] = e
	}
	seen := make(map[string]bool, len(next))
	var notes []note
	engines := make([]HostEngine, 0, len(next))
	for _, e := range next {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		engines = append(engines, e.Clone())
		o, ok := old[e.Name]
		switch {
		case !ok:
			notes = append(notes, note{e, SubjectAdded})
		case !o.equal(e):
			notes = append(notes, note{e, SubjectChanged})
		}
	}
	var removed []note
	for _, o := range m.engines {
		if !seen[o.Name] {
			removed = append(removed, note{o, SubjectRemoved})
		}
	}
	m.engines = engines
	prevCurrent := m.current
	if current != "" && !seen[current] {
		current = ""
	}
	m.current = current
	m.mu.Unlock()

	for _, n := range append(removed, notes...) {
		m.notify(n.e, n.subj)
	}
	if current != "" && current != prevCurrent {
		if e, ok := m.EngineByName(current); ok {
			m.notify(e, SubjectCurrent)
		}
	}
}
