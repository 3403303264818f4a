package narration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedNarrator returns queued outcomes per text, Completed once a text's
// script runs out. Texts listed in hold wait for cancellation.
type scriptedNarrator struct {
	mu     sync.Mutex
	script map[string][]Outcome
	errs   map[string]error
	hold   map[string]bool
	spoken []string
}

func newScriptedNarrator() *scriptedNarrator {
	return &scriptedNarrator{
		script: map[string][]Outcome{},
		errs:   map[string]error{},
		hold:   map[string]bool{},
	}
}

func (n *scriptedNarrator) Announce(ctx context.Context, text string) (Outcome, error) {
	n.mu.Lock()
	n.spoken = append(n.spoken, text)
	hold := n.hold[text]
	err := n.errs[text]
	var out Outcome = Completed
	if s := n.script[text]; len(s) > 0 {
		out = s[0]
		n.script[text] = s[1:]
	}
	n.mu.Unlock()

	if hold {
		<-ctx.Done()
		return Interrupted, nil
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

func (n *scriptedNarrator) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.spoken...)
}

func runQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("announcement did not finish")
		return ""
	}
}

func TestQueue_PlaysInOrder(t *testing.T) {
	n := newScriptedNarrator()
	q := NewQueue(n)
	runQueue(t, q)

	a := q.Enqueue("B-1")
	b := q.Enqueue("I-16")
	c := q.Enqueue("N-31")

	assert.Equal(t, Completed, await(t, a))
	assert.Equal(t, Completed, await(t, b))
	assert.Equal(t, Completed, await(t, c))
	assert.Equal(t, []string{"B-1", "I-16", "N-31"}, n.calls())
	require.Eventually(t, func() bool { return q.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestQueue_BlockedIsRetriedAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	n := newScriptedNarrator()
	n.script["G-50"] = []Outcome{Blocked, Blocked}
	q := NewQueue(n, WithClock(clock), WithRetryDelay(2*time.Second))
	runQueue(t, q)

	done := q.Enqueue("G-50")
	next := q.Enqueue("O-70")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, StateWaitingRetry, q.State())
	assert.Equal(t, 2, q.Len(), "blocked text stays queued")

	clock.Advance(2 * time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	assert.Equal(t, Completed, await(t, done))
	assert.Equal(t, Completed, await(t, next))
	assert.Equal(t, []string{"G-50", "G-50", "G-50", "O-70"}, n.calls())
}

func TestQueue_ClearInterruptsAndDrops(t *testing.T) {
	n := newScriptedNarrator()
	n.hold["B-5"] = true
	q := NewQueue(n)
	runQueue(t, q)

	current := q.Enqueue("B-5")
	pending := q.Enqueue("I-20")
	require.Eventually(t, func() bool { return q.State() == StateSpeaking }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, Interrupted, await(t, current))
	assert.Equal(t, Interrupted, await(t, pending))

	after := q.Enqueue("N-40")
	assert.Equal(t, Completed, await(t, after))
	assert.Equal(t, []string{"B-5", "N-40"}, n.calls())
}

func TestQueue_NarratorErrorDoesNotStopQueue(t *testing.T) {
	n := newScriptedNarrator()
	n.errs["B-3"] = errors.New("speaker unplugged")
	q := NewQueue(n)
	runQueue(t, q)

	failed := q.Enqueue("B-3")
	ok := q.Enqueue("B-4")
	assert.Equal(t, Interrupted, await(t, failed))
	assert.Equal(t, Completed, await(t, ok))
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	n := newScriptedNarrator()
	n.hold["O-75"] = true
	q := NewQueue(n)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	done := q.Enqueue("O-75")
	require.Eventually(t, func() bool { return q.State() == StateSpeaking }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, Interrupted, await(t, done))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPacedNarrator(t *testing.T) {
	clock := clockwork.NewFakeClock()
	n := NewPacedNarrator(clock, 3*time.Second)

	result := make(chan Outcome, 1)
	go func() {
		o, _ := n.Announce(context.Background(), "B-1")
		result <- o
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(3 * time.Second)
	assert.Equal(t, Completed, await(t, result))

	canceled, stop := context.WithCancel(context.Background())
	stop()
	o, err := n.Announce(canceled, "B-2")
	require.NoError(t, err)
	assert.Equal(t, Interrupted, o)
}

func TestNumberPhrase(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "B-1"},
		{15, "B-15"},
		{16, "I-16"},
		{45, "N-45"},
		{60, "G-60"},
		{75, "O-75"},
		{0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, NumberPhrase(tt.n))
		})
	}
}
