package narration

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is what the queue consumer is doing.
type State string

const (
	StateIdle         State = "idle"
	StateSpeaking     State = "speaking"
	StateWaitingRetry State = "waiting_retry"
)

const DefaultRetryDelay = 2 * time.Second

type item struct {
	text string
	done chan Outcome
	once sync.Once
}

func (it *item) finish(o Outcome) {
	it.once.Do(func() { it.done <- o })
}

// Queue is a finite FIFO of announcements played one at a time by Run.
// A blocked announcement stays at the head and is retried after a delay.
type Queue struct {
	narrator   Narrator
	clock      clockwork.Clock
	retryDelay time.Duration

	mu      sync.Mutex
	items   []*item
	state   State
	current context.CancelFunc
	wake    chan struct{}
}

type QueueOption func(*Queue)

func WithClock(c clockwork.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

func WithRetryDelay(d time.Duration) QueueOption {
	return func(q *Queue) { q.retryDelay = d }
}

func NewQueue(narrator Narrator, opts ...QueueOption) *Queue {
	q := &Queue{
		narrator:   narrator,
		clock:      clockwork.NewRealClock(),
		retryDelay: DefaultRetryDelay,
		state:      StateIdle,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds text to the tail. The returned channel receives the final
// outcome (Completed or Interrupted) once.
func (q *Queue) Enqueue(text string) <-chan Outcome {
	it := &item{text: text, done: make(chan Outcome, 1)}
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.signal()
	return it.done
}

// Clear interrupts the announcement in progress and drops everything queued.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.items
	q.items = nil
	if q.current != nil {
		q.current()
	}
	q.mu.Unlock()

	for _, it := range dropped {
		it.finish(Interrupted)
	}
	q.signal()
	return len(dropped)
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run consumes the queue until ctx is done. Only one Run may be active.
func (q *Queue) Run(ctx context.Context) error {
	defer q.setState(StateIdle)
	for {
		it, itemCtx, ok := q.head(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				q.Clear()
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		outcome := q.play(itemCtx, it)
		if outcome == Blocked {
			q.setState(StateWaitingRetry)
			log.Warn().
				Str("text", it.text).
				Dur("retry_in", q.retryDelay).
				Msg("narration blocked, will retry")
			select {
			case <-ctx.Done():
				q.Clear()
				return ctx.Err()
			case <-itemCtx.Done():
				// cleared while waiting
			case <-q.clock.After(q.retryDelay):
			}
			q.finishCurrent()
			continue
		}

		q.pop(it)
		q.finishCurrent()
		it.finish(outcome)
	}
}

// head returns the first queued item with a cancelable context for playing it.
func (q *Queue) head(ctx context.Context) (*item, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.state = StateIdle
		return nil, nil, false
	}
	itemCtx, cancel := context.WithCancel(ctx)
	q.current = cancel
	q.state = StateSpeaking
	return q.items[0], itemCtx, true
}

func (q *Queue) play(ctx context.Context, it *item) Outcome {
	outcome, err := q.narrator.Announce(ctx, it.text)
	if err != nil {
		log.Error().Err(err).Str("text", it.text).Msg("narration failed")
		return Interrupted
	}
	if ctx.Err() != nil && outcome != Completed {
		return Interrupted
	}
	if !outcome.Valid() {
		return Interrupted
	}
	return outcome
}

// pop removes it from the head unless Clear already dropped it.
func (q *Queue) pop(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0] == it {
		q.items = q.items[1:]
	}
}

func (q *Queue) finishCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		q.current()
		q.current = nil
	}
}

func (q *Queue) setState(s State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = s
}
