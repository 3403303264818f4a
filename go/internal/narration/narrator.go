package narration

import (
	"context"
	"fmt"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Outcome is how an announcement ended.
type Outcome string

const (
	Completed   Outcome = "completed"
	Interrupted Outcome = "interrupted"
	// Blocked means playback needs a user gesture first; the text stays queued.
	Blocked Outcome = "blocked"
)

func (o Outcome) Valid() bool {
	return o == Completed || o == Interrupted || o == Blocked
}

// Narrator plays one announcement and reports how it ended.
type Narrator interface {
	Announce(ctx context.Context, text string) (Outcome, error)
}

// PacedNarrator stands in for speech playback by holding each announcement
// for a fixed duration.
type PacedNarrator struct {
	clock clockwork.Clock
	pace  time.Duration
}

func NewPacedNarrator(clock clockwork.Clock, pace time.Duration) *PacedNarrator {
	return &PacedNarrator{clock: clock, pace: pace}
}

func (n *PacedNarrator) Announce(ctx context.Context, text string) (Outcome, error) {
	log.Info().Str("text", text).Msg("announcing")
	if n.pace <= 0 {
		return Completed, nil
	}
	select {
	case <-n.clock.After(n.pace):
		return Completed, nil
	case <-ctx.Done():
		return Interrupted, nil
	}
}

// NumberPhrase is the spoken form of a drawn number, e.g. "B-12".
func NumberPhrase(n int) string {
	col, ok := models.ColumnOf(n)
	if !ok {
		return fmt.Sprint(n)
	}
	return fmt.Sprintf("%s-%d", col.Letter(), n)
}

// CountdownPhrase is the spoken form of a countdown second.
func CountdownPhrase(seconds int) string {
	return fmt.Sprint(seconds)
}
