package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var errSessionClosed = errors.New("caller session closed")

// MessageSender delivers a message to one session
type MessageSender interface {
	SendMessage(msg ServerMessage) bool
}

// RemoteNarrator plays announcements on the caller's browser. Each announce
// message is answered by an announce_result carrying the same id.
type RemoteNarrator struct {
	sender  MessageSender
	clock   clockwork.Clock
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan narration.Outcome
}

func NewRemoteNarrator(sender MessageSender, clock clockwork.Clock, timeout time.Duration) *RemoteNarrator {
	return &RemoteNarrator{
		sender:  sender,
		clock:   clock,
		timeout: timeout,
		pending: make(map[string]chan narration.Outcome),
	}
}

// Announce sends text to the caller and waits for its result. A caller that
// does not answer within the timeout is treated as interrupted.
func (n *RemoteNarrator) Announce(ctx context.Context, text string) (narration.Outcome, error) {
	id := uuid.New().String()
	ch := make(chan narration.Outcome, 1)

	n.mu.Lock()
	n.pending[id] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	if !n.sender.SendMessage(ServerMessage{Type: MessageAnnounce, AnnouncementID: id, Text: text}) {
		return narration.Interrupted, errSessionClosed
	}

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return narration.Interrupted, nil
	case <-n.clock.After(n.timeout):
		log.Warn().Str("announcement_id", id).Str("text", text).Msg("announcement result timed out")
		return narration.Interrupted, nil
	}
}

// Resolve records the result of an announcement. Unknown ids are ignored.
func (n *RemoteNarrator) Resolve(id string, outcome narration.Outcome) bool {
	if !outcome.Valid() {
		return false
	}
	n.mu.Lock()
	ch, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- outcome:
		return true
	default:
		return false
	}
}
