// Package present delivers engine and suggestion updates to whatever shows
// them to the user.
package present

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/registry"
	"github.com/hyperifyio/searchspot/internal/suggest"
)

// Surface receives outbound UI events. Implementations must be safe for
// concurrent use: suggestion batches arrive from several goroutines.
type Surface interface {
	AddEngine(engine.Record)
	RemoveEngine(engine.Record)
	SetEngines([]engine.Record)
	SetTerms(string)
	Results(suggest.Batch)
}

// Event names written by JSONLines.
const (
	EventAddEngine    = "addEngine"
	EventRemoveEngine = "removeEngine"
	EventSetEngines   = "setEngines"
	EventSetTerms     = "setTerms"
	EventAdd          = "add"
	EventHTML         = "html"
)

// JSONLines writes one {"event": ..., "data": ...} object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

type line struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (j *JSONLines) write(event string, data any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(line{Event: event, Data: data}); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("write presentation event")
	}
}

func (j *JSONLines) AddEngine(r engine.Record) { j.write(EventAddEngine, r) }
func (j *JSONLines) RemoveEngine(r engine.Record) { j.write(EventRemoveEngine, r) }
func (j *JSONLines) SetEngines(rs []engine.Record) { j.write(EventSetEngines, rs) }
func (j *JSONLines) SetTerms(terms string) { j.write(EventSetTerms, terms) }

// Results writes HTML-fragment batches as "html" and the rest as "add".
func (j *JSONLines) Results(b suggest.Batch) {
	if b.Kind == suggest.KindHTML {
		j.write(EventHTML, b)
		return
	}
	j.write(EventAdd, b)
}

// Log reports events through a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) AddEngine(r engine.Record) {
	l.Logger.Info().Str("host", r.Host).Str("name", r.Name).Strs("tags", r.Tags).Msg("engine added")
}

func (l Log) RemoveEngine(r engine.Record) {
	l.Logger.Info().Str("host", r.Host).Msg("engine removed")
}

func (l Log) SetEngines(rs []engine.Record) {
	l.Logger.Info().Int("count", len(rs)).Msg("engines set")
}

func (l Log) SetTerms(terms string) {
	l.Logger.Debug().Str("terms", terms).Msg("terms set")
}

func (l Log) Results(b suggest.Batch) {
	ev := l.Logger.Info().Str("host", b.Name).Str("terms", b.Terms).Str("type", b.Type)
	if b.Kind == suggest.KindHTML {
		ev.Int("htmlBytes", len(b.HTML)).Msg("html suggestions")
		return
	}
	titles := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		titles = append(titles, r.Title)
	}
	ev.Strs("results", titles).Msg("suggestions")
}

// Changes is the registry surface Bind needs.
type Changes interface {
	ByTag(tag string) []engine.Record
	Subscribe(fn func(registry.Change)) (dispose func())
}

// Bind sends the current :default engines to s and forwards later registry
// changes. The returned func stops forwarding.
func Bind(c Changes, s Surface) (dispose func()) {
	s.SetEngines(c.ByTag(engine.TagDefault))
	return c.Subscribe(func(ch registry.Change) {
		switch ch.Kind {
		case registry.Added:
			s.AddEngine(ch.Engine)
		case registry.Removed:
			s.RemoveEngine(ch.Engine)
		}
	})
}
