package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/broadcast"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/orchestrator"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	game    *game.Service
	store   *gamestate.Store
	gateway *Service
	server  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := broadcast.NewHub()
	store, err := gamestate.Open(ctx, gamestate.NewMemoryRepository(), hub, gamestate.DefaultConfig())
	require.NoError(t, err)

	gameCfg := game.DefaultConfig()
	gameCfg.BcryptCost = bcrypt.MinCost
	svc := game.NewService(store, gameCfg)

	cfg := DefaultConfig()
	cfg.InstanceID = "test"
	cfg.Orchestrator = orchestrator.Config{
		PreCountdownSeconds: 1,
		TickInterval:        5 * time.Millisecond,
		DrawPause:           time.Millisecond,
		HeartbeatInterval:   50 * time.Millisecond,
		IdlePollInterval:    20 * time.Millisecond,
	}
	gw := NewService(cfg, svc, hub, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Start(ctx)
	}()

	server := httptest.NewServer(gw.Routes())
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
		svc.Close()
		hub.Close()
	})
	return &testServer{game: svc, store: store, gateway: gw, server: server}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg ClientMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// readUntil reads messages until match accepts one. Announcements are
// answered as completed along the way.
func (c *client) readUntil(match func(ServerMessage) bool) ServerMessage {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var msg ServerMessage
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		require.NoError(c.t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
		if msg.Type == MessageAnnounce {
			c.send(ClientMessage{
				Type:           MessageAnnounceResult,
				AnnouncementID: msg.AnnouncementID,
				Outcome:        narration.Completed,
			})
		}
	}
}

// request sends msg and returns the ack or error answering it.
func (c *client) request(msg ClientMessage) ServerMessage {
	c.t.Helper()
	msg.RequestID = string(msg.Type) + "-" + time.Now().Format(time.RFC3339Nano)
	c.send(msg)
	return c.readUntil(func(m ServerMessage) bool {
		return m.RequestID == msg.RequestID
	})
}

func TestGateway_SendsStateOnConnect(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	msg := c.readUntil(func(m ServerMessage) bool { return m.Type == MessageState })
	require.NotNil(t, msg.State)
	assert.Equal(t, models.PhaseIdle, msg.State.Phase)
	assert.Equal(t, models.DefaultRoomID, msg.State.ID)
}

func TestGateway_RegisterBroadcastsToEverySession(t *testing.T) {
	ts := newTestServer(t)
	ana := ts.dial(t)
	watcher := ts.dial(t)

	reply := ana.request(ClientMessage{Type: MessageRegister, Name: "Ana", Password: "secret"})
	require.Equal(t, MessageAck, reply.Type, reply.Error)

	msg := watcher.readUntil(func(m ServerMessage) bool {
		return m.Type == MessageState && len(m.State.OnlineUsers) == 1
	})
	assert.Equal(t, []string{"Ana"}, msg.State.OnlineUsers)
	require.Len(t, msg.State.Users, 1)
	assert.Equal(t, "Ana", msg.State.Users[0].Username)
}

func TestGateway_RejectsCommands(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	reply := c.request(ClientMessage{Type: MessageAddCards, Count: 1})
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, errNotLoggedIn.Error(), reply.Error)

	reply = c.request(ClientMessage{Type: "shuffle"})
	assert.Equal(t, MessageError, reply.Type)
	assert.Contains(t, reply.Error, "unknown message type")

	reply = c.request(ClientMessage{Type: MessageStartGame})
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, game.ErrNotCaller.Error(), reply.Error)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := c.readUntil(func(m ServerMessage) bool { return m.Type == MessageError })
	assert.Equal(t, "invalid message", msg.Error)
}

func TestGateway_AddCardsAndClaim(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	require.Equal(t, MessageAck, c.request(ClientMessage{Type: MessageRegister, Name: "Ana", Password: "secret"}).Type)

	reply := c.request(ClientMessage{Type: MessageAddCards, Count: 2})
	require.Equal(t, MessageAck, reply.Type, reply.Error)
	assert.Len(t, ts.store.Get().CardsOwnedBy("Ana"), 2)

	card := ts.store.Get().CardsOwnedBy("Ana")[0]
	reply = c.request(ClientMessage{Type: MessageClaimBingo, CardID: card.ID.String()})
	require.Equal(t, MessageAck, reply.Type, reply.Error)
	result, ok := reply.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(game.ClaimIgnored), result["outcome"], "no game is running")

	reply = c.request(ClientMessage{Type: MessageClaimBingo, CardID: "nope"})
	assert.Equal(t, MessageError, reply.Type)
}

func TestGateway_CallerDrivesTheGame(t *testing.T) {
	ts := newTestServer(t)
	caller := ts.dial(t)

	require.Equal(t, MessageAck, caller.request(ClientMessage{Type: MessageRegister, Name: "admin", Password: "secret"}).Type)
	reply := caller.request(ClientMessage{Type: MessageAcquireCaller})
	require.Equal(t, MessageAck, reply.Type, reply.Error)

	reply = caller.request(ClientMessage{Type: MessageStartGame})
	require.Equal(t, MessageAck, reply.Type, reply.Error)

	caller.readUntil(func(m ServerMessage) bool {
		return m.Type == MessageState && len(m.State.DrawnNumbers) >= 3
	})

	reply = caller.request(ClientMessage{Type: MessageResetGame})
	require.Equal(t, MessageAck, reply.Type, reply.Error)
	msg := caller.readUntil(func(m ServerMessage) bool {
		return m.Type == MessageState && m.State.Phase == models.PhaseIdle
	})
	assert.Empty(t, msg.State.DrawnNumbers)
	assert.Equal(t, "admin", msg.State.CallerName)
}

func TestGateway_SecondCallerIsRejected(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t)
	second := ts.dial(t)

	require.Equal(t, MessageAck, first.request(ClientMessage{Type: MessageRegister, Name: "admin", Password: "secret"}).Type)
	require.Equal(t, MessageAck, first.request(ClientMessage{Type: MessageAcquireCaller}).Type)

	require.Equal(t, MessageAck, second.request(ClientMessage{Type: MessageLogin, Name: "admin", Password: "secret"}).Type)
	reply := second.request(ClientMessage{Type: MessageAcquireCaller})
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, game.ErrCallerTaken.Error(), reply.Error)
}

func TestGateway_DisconnectReleasesCallerAndLogsOut(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	require.Equal(t, MessageAck, c.request(ClientMessage{Type: MessageRegister, Name: "admin", Password: "secret"}).Type)
	require.Equal(t, MessageAck, c.request(ClientMessage{Type: MessageAcquireCaller}).Type)
	require.True(t, ts.store.Get().IsOnline("admin"))

	require.NoError(t, c.conn.Close())

	require.Eventually(t, func() bool {
		st := ts.store.Get()
		return st.CallerLease == nil && !st.IsOnline("admin")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, ts.gateway.ConnectionCount())
}

func TestGateway_LogoutKeepsOtherSessionsOnline(t *testing.T) {
	ts := newTestServer(t)
	phone := ts.dial(t)
	laptop := ts.dial(t)

	require.Equal(t, MessageAck, phone.request(ClientMessage{Type: MessageRegister, Name: "Ana", Password: "secret"}).Type)
	require.Equal(t, MessageAck, laptop.request(ClientMessage{Type: MessageLogin, Name: "Ana", Password: "secret"}).Type)

	require.Equal(t, MessageAck, phone.request(ClientMessage{Type: MessageLogout}).Type)
	assert.True(t, ts.store.Get().IsOnline("Ana"))

	require.Equal(t, MessageAck, laptop.request(ClientMessage{Type: MessageLogout}).Type)
	assert.False(t, ts.store.Get().IsOnline("Ana"))
}

func TestGateway_HTTPRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.game.Register(ctx, "Ana", "secret")
	require.NoError(t, err)

	res, err := http.Get(ts.server.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(ts.server.URL + "/info")
	require.NoError(t, err)
	var info infoResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&info))
	res.Body.Close()
	assert.Equal(t, "test", info.InstanceID)
	assert.Equal(t, string(models.PhaseIdle), info.Phase)
	assert.False(t, info.Degraded)

	res, err = http.Get(ts.server.URL + "/api/state")
	require.NoError(t, err)
	var public models.PublicGameState
	require.NoError(t, json.NewDecoder(res.Body).Decode(&public))
	res.Body.Close()
	require.Len(t, public.Users, 1)
	assert.Equal(t, "Ana", public.Users[0].Username)
	assert.NotContains(t, mustJSON(t, public), "password_hash")

	res, err = http.Get(ts.server.URL + "/api/leaderboard")
	require.NoError(t, err)
	var board []models.LeaderboardEntry
	require.NoError(t, json.NewDecoder(res.Body).Decode(&board))
	res.Body.Close()
	assert.Empty(t, board)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type linkStatus bool

func (l linkStatus) IsConnected() bool { return bool(l) }

func TestGateway_HealthReportsDependencies(t *testing.T) {
	ctx := context.Background()
	store, err := gamestate.Open(ctx, gamestate.NewMemoryRepository(), nil, gamestate.DefaultConfig())
	require.NoError(t, err)
	svc := game.NewService(store, game.DefaultConfig())
	t.Cleanup(svc.Close)
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	tests := []struct {
		name    string
		opts    []ServiceOption
		code    int
		healthy bool
	}{
		{"no dependencies", nil, http.StatusOK, true},
		{"replication up", []ServiceOption{WithReplication(linkStatus(true))}, http.StatusOK, true},
		{"replication down", []ServiceOption{WithReplication(linkStatus(false))}, http.StatusServiceUnavailable, false},
		{"storage down", []ServiceOption{WithStoragePing(failingPinger{})}, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewService(DefaultConfig(), svc, hub, store, tt.opts...)
			rec := httptest.NewRecorder()
			gw.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
			assert.Equal(t, tt.healthy, status.Healthy)
			assert.Equal(t, !tt.healthy, len(status.Errors) > 0)
		})
	}
}
