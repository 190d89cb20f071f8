package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDelay is how long typing must pause before a round starts.
const DefaultDelay = 300 * time.Millisecond

// Runner is what the debouncer drives. *Aggregator implements it.
type Runner interface {
	SetActive(term string)
	Run(ctx context.Context, term string) error
}

// State of a query session.
type State int

const (
	Idle State = iota
	Pending
	Fetching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Debouncer coalesces keystrokes into one round per pause in typing. Each
// keystroke resets the timer; the active term changes immediately so that
// answers still in flight for older terms are discarded. In-flight requests
// are not aborted.
type Debouncer struct {
	runner Runner
	delay  time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	term   string
	gen    uint64
	state  State
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDebouncer returns an idle debouncer. A non-positive delay means
// DefaultDelay.
func NewDebouncer(r Runner, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{runner: r, delay: delay, ctx: ctx, cancel: cancel}
}

// Keystroke reports the text currently typed. Repeating the current term is
// ignored.
func (d *Debouncer) Keystroke(term string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || term == d.term {
		return
	}
	d.term = term
	d.runner.SetActive(term)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.state = Pending
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	term := d.term
	d.state = Fetching
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	if err := d.runner.Run(d.ctx, term); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("terms", term).Msg("suggestion round failed")
	}

	d.mu.Lock()
	if gen == d.gen && d.state == Fetching {
		d.state = Idle
	}
	d.mu.Unlock()
}

// State reports where the session is.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Cancel drops a pending round and invalidates answers in flight. The next
// keystroke starts afresh, even for the same text.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.term = ""
	d.state = Idle
	d.runner.SetActive("")
}

// Close cancels the session, aborts requests in flight and waits for any
// running round to return.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancelLocked()
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
