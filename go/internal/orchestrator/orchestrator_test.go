package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/broadcast"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const session = "caller-1"

type scriptedSource struct {
	mu  sync.Mutex
	seq []int
}

func (s *scriptedSource) IntN(int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		return 0
	}
	n := s.seq[0]
	s.seq = s.seq[1:]
	return n - 1
}

// recordingAnnouncer completes every announcement immediately.
type recordingAnnouncer struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAnnouncer) Enqueue(text string) <-chan narration.Outcome {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
	ch := make(chan narration.Outcome, 1)
	ch <- narration.Completed
	return ch
}

func (a *recordingAnnouncer) Clear() int { return 0 }

func (a *recordingAnnouncer) spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

// holdingAnnouncer leaves every announcement pending until complete is called.
type holdingAnnouncer struct {
	mu      sync.Mutex
	pending []chan narration.Outcome
}

func (a *holdingAnnouncer) Enqueue(string) <-chan narration.Outcome {
	ch := make(chan narration.Outcome, 1)
	a.mu.Lock()
	a.pending = append(a.pending, ch)
	a.mu.Unlock()
	return ch
}

func (a *holdingAnnouncer) Clear() int { return 0 }

func (a *holdingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *holdingAnnouncer) complete(i int) {
	a.mu.Lock()
	ch := a.pending[i]
	a.mu.Unlock()
	ch <- narration.Completed
}

type harness struct {
	svc       *game.Service
	store     *gamestate.Store
	announcer *recordingAnnouncer
	orch      *Orchestrator
}

func newHarness(t *testing.T, draws []int) *harness {
	t.Helper()
	announcer := &recordingAnnouncer{}
	h := newHarnessWith(t, draws, announcer)
	h.announcer = announcer
	return h
}

func newHarnessWith(t *testing.T, draws []int, announcer Announcer) *harness {
	t.Helper()
	ctx := context.Background()
	hub := &notifier{}
	store, err := gamestate.Open(ctx, gamestate.NewMemoryRepository(), hub, gamestate.DefaultConfig())
	require.NoError(t, err)

	cfg := game.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	svc := game.NewService(store, cfg, game.WithDrawSource(&scriptedSource{seq: draws}))
	t.Cleanup(svc.Close)

	_, err = svc.AcquireCaller(ctx, session, "admin")
	require.NoError(t, err)

	orch := New(svc, announcer, session, Config{
		PreCountdownSeconds: 2,
		TickInterval:        10 * time.Millisecond,
		DrawPause:           time.Millisecond,
		HeartbeatInterval:   50 * time.Millisecond,
		IdlePollInterval:    20 * time.Millisecond,
	})
	hub.set(orch.Notify)
	return &harness{svc: svc, store: store, orch: orch}
}

type notifier struct {
	mu sync.Mutex
	fn func(*models.GameState)
}

func (n *notifier) set(fn func(*models.GameState)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fn = fn
}

func (n *notifier) Publish(st *models.GameState) {
	n.mu.Lock()
	fn := n.fn
	n.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (h *harness) run(t *testing.T) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.orch.Run(ctx) }()
	t.Cleanup(cancel)
	return errCh
}

func rowThreeGrid() models.Grid {
	cols := [models.GridSize][models.GridSize]int{
		{1, 2, 12, 3, 4},
		{16, 17, 27, 18, 19},
		{31, 32, 0, 33, 34},
		{46, 47, 58, 48, 49},
		{61, 62, 71, 63, 64},
	}
	var g models.Grid
	for c := range cols {
		for r := range cols[c] {
			if cols[c][r] == 0 {
				g[c][r] = models.FreeCell()
			} else {
				g[c][r] = models.NumberCell(cols[c][r])
			}
		}
	}
	return g
}

func TestOrchestrator_CountdownDrawsAndAutoWinner(t *testing.T) {
	h := newHarness(t, []int{12, 27, 58, 71, 5, 6, 7})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "Ana", "secret")
	require.NoError(t, err)
	_, err = h.store.Update(ctx, func(st *models.GameState) (bool, error) {
		st.GeneratedCards = append(st.GeneratedCards, models.Card{OwnerName: "Ana", Grid: rowThreeGrid()})
		return true, nil
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.SetPreference(ctx, "Ana", models.MarkingAuto))
	require.NoError(t, h.svc.StartCountdown(ctx, session, 2))

	h.run(t)

	require.Eventually(t, func() bool {
		return h.store.Get().Phase() == models.PhaseWinner
	}, 3*time.Second, 10*time.Millisecond)

	st := h.store.Get()
	assert.Equal(t, []int{12, 27, 58, 71}, st.DrawnNumbers, "drawing stops at the winning number")
	assert.Equal(t, "Ana", st.BingoWinner.PlayerName)
	assert.Equal(t, 1, st.PlayerWins["Ana"])

	spoken := h.announcer.spoken()
	assert.Equal(t, []string{"2", "1", "B-12", "I-27", "G-58", "O-71"}, spoken[:6])
	assert.Contains(t, spoken, "Bingo! Ana wins")
}

func TestOrchestrator_NextDrawWaitsForAnnouncement(t *testing.T) {
	announcer := &holdingAnnouncer{}
	h := newHarnessWith(t, []int{5, 6, 7}, announcer)
	_, err := h.svc.StartGame(context.Background(), session)
	require.NoError(t, err)

	h.run(t)

	require.Eventually(t, func() bool {
		return announcer.count() == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return len(h.store.Get().DrawnNumbers) > 1
	}, 150*time.Millisecond, 10*time.Millisecond, "pending announcement holds the next draw")
	assert.Equal(t, []int{5}, h.store.Get().DrawnNumbers)

	announcer.complete(0)

	require.Eventually(t, func() bool {
		return len(h.store.Get().DrawnNumbers) == 2
	}, 3*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return len(h.store.Get().DrawnNumbers) > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []int{5, 6}, h.store.Get().DrawnNumbers)
}

func TestOrchestrator_PastDueScheduleStartsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.ScheduleGame(ctx, session, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	h.run(t)

	require.Eventually(t, func() bool {
		st := h.store.Get()
		return len(st.ScheduledGames) == 0 && len(st.DrawnNumbers) > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_ExhaustsWithoutWinner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.svc.StartGame(ctx, session)
	require.NoError(t, err)

	h.run(t)

	require.Eventually(t, func() bool {
		return h.store.Get().Phase() == models.PhaseExhausted
	}, 5*time.Second, 10*time.Millisecond)

	st := h.store.Get()
	assert.Len(t, st.DrawnNumbers, models.MaxNumber)
	assert.Nil(t, st.BingoWinner)
}

func TestOrchestrator_StopsWhenLeaseIsLost(t *testing.T) {
	h := newHarness(t, nil)
	errCh := h.run(t)

	require.NoError(t, h.svc.ReleaseCaller(context.Background(), session))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, game.ErrNotCaller)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator kept running without the lease")
	}
}

func TestOrchestrator_WaitsForScheduledLeadTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := &stubService{clock: clock}
	start := clock.Now().Add(time.Minute)
	svc.state = models.NewGameState(models.DefaultRoomID, clock.Now())
	svc.state.ScheduledGames = []models.ScheduledGame{{StartTime: start}}
	svc.state.CallerLease = &models.CallerLease{SessionID: session, ExpiresAt: clock.Now().Add(time.Hour)}

	orch := New(svc, &recordingAnnouncer{}, session, Config{
		PreCountdownSeconds: 10,
		TickInterval:        time.Second,
		IdlePollInterval:    time.Hour,
	}, WithClock(clock))

	done := make(chan error, 1)
	go func() { done <- orch.driveSchedule(context.Background(), svc.state) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Zero(t, svc.started, "countdown must not start before its lead time")

	clock.Advance(50 * time.Second)
	require.NoError(t, <-done)

	require.NoError(t, orch.driveSchedule(context.Background(), svc.state))
	assert.Equal(t, 1, svc.started)
	assert.Equal(t, 10, svc.seconds)
}

type stubService struct {
	GameService
	clock   clockwork.Clock
	state   *models.GameState
	started int
	seconds int
}

func (s *stubService) StartScheduledGame(_ context.Context, _ string, _ uuid.UUID, seconds int) error {
	s.started++
	s.seconds = seconds
	return nil
}

func newHeadless(t *testing.T) (*game.Service, *gamestate.Store, *HeadlessCaller) {
	t.Helper()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	store, err := gamestate.Open(context.Background(), gamestate.NewMemoryRepository(), hub, gamestate.DefaultConfig())
	require.NoError(t, err)

	cfg := game.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	svc := game.NewService(store, cfg)
	t.Cleanup(svc.Close)

	h := NewHeadlessCaller(svc, hub, narration.NewPacedNarrator(clockwork.NewRealClock(), 0), "headless-1", "admin", Config{
		PreCountdownSeconds: 1,
		TickInterval:        5 * time.Millisecond,
		DrawPause:           time.Millisecond,
		HeartbeatInterval:   20 * time.Millisecond,
		IdlePollInterval:    20 * time.Millisecond,
	})
	return svc, store, h
}

func TestHeadlessCaller_DrivesAndReleasesOnStop(t *testing.T) {
	svc, store, h := newHeadless(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.IsCaller("headless-1")
	}, 2*time.Second, 5*time.Millisecond)

	_, err := svc.StartGame(context.Background(), "headless-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(store.Get().DrawnNumbers) >= 3
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, store.Get().CallerLease)
}

func TestHeadlessCaller_WaitsForFreeLease(t *testing.T) {
	svc, _, h := newHeadless(t)
	_, err := svc.AcquireCaller(context.Background(), session, "admin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	assert.True(t, svc.IsCaller(session), "a held lease is not taken over")

	require.NoError(t, svc.ReleaseCaller(context.Background(), session))
	require.Eventually(t, func() bool {
		return svc.IsCaller("headless-1")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewHeadlessCaller_Options(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHeadlessCaller(nil, nil, nil, "headless-1", "admin", Config{}, WithHeadlessClock(clock))

	assert.Equal(t, clock, h.clock)
	assert.Equal(t, DefaultConfig().HeartbeatInterval, h.retryDelay, "retries follow the defaulted heartbeat")
}
