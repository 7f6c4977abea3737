package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

type staticCreds struct {
	creds credential.Credentials
}

func (s staticCreds) Get() credential.Credentials { return s.creds }

type mutableCreds struct {
	mu    sync.Mutex
	creds credential.Credentials
}

func (c *mutableCreds) Get() credential.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *mutableCreds) setHubToken(tok string) {
	c.mu.Lock()
	c.creds.HubAccessToken = tok
	c.mu.Unlock()
}

// slowSuccessRecorder stalls a successful reconnect before it returns.
type slowSuccessRecorder struct {
	nopRecorder
	delay time.Duration
}

func (r slowSuccessRecorder) IncReconnect(result string) {
	if result == "success" {
		time.Sleep(r.delay)
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingHandler) HandleFrame(raw []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(raw))
	r.mu.Unlock()
}

func (r *recordingHandler) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

// fakeHub serves /signalr/negotiate and /signalr/connect.
type fakeHub struct {
	negotiateStatus atomic.Int32
	negotiateBody   atomic.Value
	rejectConnect   atomic.Bool
	dropAfterFirst  atomic.Bool
	negotiates      atomic.Int32
	dials           atomic.Int32

	mu        sync.Mutex
	lastQuery url.Values
	lastHdr   http.Header
	conns     []*websocket.Conn

	received chan []byte
	upgrader websocket.Upgrader
}

func newFakeHub(t *testing.T) (*fakeHub, *httptest.Server) {
	t.Helper()
	h := &fakeHub{received: make(chan []byte, 64)}
	h.negotiateStatus.Store(http.StatusOK)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/negotiate"):
		n := h.negotiates.Add(1)
		status := int(h.negotiateStatus.Load())
		if status != http.StatusOK {
			http.Error(w, "internal error", status)
			return
		}
		if body, ok := h.negotiateBody.Load().(string); ok {
			_, _ = w.Write([]byte(body))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ConnectionToken": fmt.Sprintf("conn-token-%d", n),
			"ConnectionId":    "c-1",
			"ProtocolVersion": "1.5",
		})
	case strings.HasSuffix(r.URL.Path, "/connect"):
		h.dials.Add(1)
		h.mu.Lock()
		h.lastQuery = r.URL.Query()
		h.lastHdr = r.Header.Clone()
		h.mu.Unlock()
		if h.rejectConnect.Load() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case h.received <- data:
				default:
				}
				if h.dropAfterFirst.Load() {
					_ = conn.Close()
					return
				}
			}
		}()
	default:
		http.NotFound(w, r)
	}
}

func (h *fakeHub) lastConn() *websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return nil
	}
	return h.conns[len(h.conns)-1]
}

func (h *fakeHub) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-h.received:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received by hub")
		return nil
	}
}

func newTestManager(srv *httptest.Server, handler FrameHandler, opts ...Option) *Manager {
	creds := staticCreds{creds: credential.Credentials{
		HubAccessToken: "hub-access",
		Cookie:         "ASP.NET_SessionId=abc",
		SubscribeToken: "sub-token",
	}}
	base := []Option{
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	return NewManager(Options{
		BaseURL:              srv.URL + "/signalr",
		HubName:              "commonnotificationhub",
		ClientProtocol:       "1.5",
		SubscriptionIDs:      []int{1, 2},
		NegotiateTimeout:     2 * time.Second,
		MaxReconnectAttempts: 5,
	}, creds, handler, logger.NewNop(), append(base, opts...)...)
}

func TestManager_NegotiateServerErrorFailsConnectCleanly(t *testing.T) {
	hub, srv := newFakeHub(t)
	hub.negotiateStatus.Store(http.StatusInternalServerError)
	m := newTestManager(srv, &recordingHandler{})

	err := m.Connect(context.Background())

	require.Error(t, err)
	var ce *ConnectionError
	assert.True(t, errors.As(err, &ce))
	var ne *NegotiationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusInternalServerError, ne.StatusCode)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, hub.dials.Load())
	assert.NotEmpty(t, m.Stats().LastError)
}

func TestManager_NegotiateMissingToken(t *testing.T) {
	hub, srv := newFakeHub(t)
	hub.negotiateBody.Store(`{"ConnectionId":"c-1"}`)
	m := newTestManager(srv, &recordingHandler{})

	_, err := m.Negotiate(context.Background())

	assert.ErrorIs(t, err, ErrMissingConnectionToken)
}

func TestManager_NegotiateWithoutHubToken(t *testing.T) {
	_, srv := newFakeHub(t)
	m := NewManager(Options{BaseURL: srv.URL, HubName: "h"}, staticCreds{}, &recordingHandler{}, logger.NewNop())

	_, err := m.Negotiate(context.Background())

	assert.ErrorIs(t, err, ErrNoHubAccessToken)
}

func TestManager_ConnectSubscribesAndDispatches(t *testing.T) {
	hub, srv := newFakeHub(t)
	handler := &recordingHandler{}
	m := newTestManager(srv, handler)

	var transitions []string
	var tmu sync.Mutex
	m.OnStateChange(func(from, to ConnectionState) {
		tmu.Lock()
		transitions = append(transitions, to.String())
		tmu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	assert.Equal(t, StateConnected, m.State())

	sub := hub.nextFrame(t)
	assert.Equal(t, "commonnotificationhub", sub["H"])
	assert.Equal(t, "Subscribe", sub["M"])
	args := sub["A"].([]any)
	require.Len(t, args, 1)
	arg := args[0].(map[string]any)
	assert.Equal(t, "sub-token", arg["Token"])
	assert.Len(t, arg["Data"], 2)

	hub.mu.Lock()
	q, hdr := hub.lastQuery, hub.lastHdr
	hub.mu.Unlock()
	assert.Equal(t, "webSockets", q.Get("transport"))
	assert.Equal(t, "conn-token-1", q.Get("connectionToken"))
	assert.Equal(t, "hub-access", q.Get("hubAccessToken"))
	assert.Equal(t, `[{"name":"commonnotificationhub"}]`, q.Get("connectionData"))
	assert.NotEmpty(t, q.Get("tid"))
	assert.Equal(t, "ASP.NET_SessionId=abc", hdr.Get("Cookie"))

	// A notification before any subscribe ack is still delivered.
	payload := `{"M":[{"H":"commonnotificationhub","M":"Notification","A":["{}"]}]}`
	require.NoError(t, hub.lastConn().WriteMessage(websocket.TextMessage, []byte(payload)))
	assert.Eventually(t, func() bool { return len(handler.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, payload, handler.snapshot()[0])

	tmu.Lock()
	assert.Equal(t, []string{"negotiating", "connected"}, transitions)
	tmu.Unlock()
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	_, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.SendPing(), ErrNotConnected)
}

func TestManager_ReconnectBudgetNeverExceedsMax(t *testing.T) {
	hub, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	hub.rejectConnect.Store(true)
	dialsBefore := hub.dials.Load()

	ok := m.Reconnect(context.Background())

	assert.False(t, ok)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 5, m.Stats().ReconnectAttempts)
	assert.Equal(t, int32(5), hub.dials.Load()-dialsBefore)

	// The spent budget is not refilled by another plain Reconnect.
	assert.False(t, m.Reconnect(context.Background()))
	assert.Equal(t, 5, m.Stats().ReconnectAttempts)
	assert.Equal(t, int32(5), hub.dials.Load()-dialsBefore)

	hub.rejectConnect.Store(false)
	assert.True(t, m.Restart(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Zero(t, m.Stats().ReconnectAttempts)
}

func TestManager_ReconnectSucceedsAfterTransientFailure(t *testing.T) {
	hub, srv := newFakeHub(t)
	var calls atomic.Int32
	m := newTestManager(srv, &recordingHandler{}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		if calls.Add(1) == 3 {
			hub.rejectConnect.Store(false)
		}
		return nil
	}))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	hub.rejectConnect.Store(true)
	assert.True(t, m.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Zero(t, m.Stats().ReconnectAttempts)
	assert.Equal(t, uint64(1), m.Stats().Reconnects)
}

func TestManager_ConcurrentReconnectIsNoop(t *testing.T) {
	_, srv := newFakeHub(t)
	release := make(chan struct{})
	m := newTestManager(srv, &recordingHandler{}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		<-release
		return nil
	}))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	first := make(chan bool, 1)
	go func() { first <- m.Reconnect(context.Background()) }()
	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, m.Reconnect(context.Background()))

	close(release)
	select {
	case ok := <-first:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("first reconnect did not finish")
	}
	assert.Equal(t, StateConnected, m.State())
}

func TestManager_ReconnectStopsOnCancel(t *testing.T) {
	_, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, m.Reconnect(ctx))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_RefreshedTokenIsUsedByNextConnect(t *testing.T) {
	hub, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})

	require.NoError(t, m.RefreshToken(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	assert.Equal(t, int32(1), hub.negotiates.Load())
	hub.mu.Lock()
	assert.Equal(t, "conn-token-1", hub.lastQuery.Get("connectionToken"))
	hub.mu.Unlock()
}

func TestManager_ServerCloseTriggersReconnect(t *testing.T) {
	hub, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	hub.nextFrame(t)

	require.NoError(t, hub.lastConn().Close())

	assert.Eventually(t, func() bool {
		return hub.dials.Load() == 2 && m.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Reconnects)
}

func TestManager_SessionDroppedDuringReconnectIsRecovered(t *testing.T) {
	hub, srv := newFakeHub(t)
	hub.dropAfterFirst.Store(true)
	m := newTestManager(srv, &recordingHandler{}, WithMetrics(slowSuccessRecorder{delay: 200 * time.Millisecond}))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Disconnect()
	}()
	require.NoError(t, m.Connect(ctx))

	// Every new session dies while its reconnect is still returning; each
	// one must still be replaced.
	assert.Eventually(t, func() bool { return hub.dials.Load() >= 4 }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, m.Stats().Reconnects, uint64(2))
}

func TestManager_RestartDuringReconnectKeepsBudget(t *testing.T) {
	hub, srv := newFakeHub(t)
	release := make(chan struct{})
	m := newTestManager(srv, &recordingHandler{}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		<-release
		return nil
	}))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	hub.rejectConnect.Store(true)
	dialsBefore := hub.dials.Load()

	done := make(chan bool, 1)
	go func() { done <- m.Reconnect(context.Background()) }()
	require.Eventually(t, func() bool { return m.Stats().ReconnectAttempts == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, m.Restart(context.Background()))
	assert.Equal(t, 1, m.Stats().ReconnectAttempts)

	close(release)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not finish")
	}
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, int32(5), hub.dials.Load()-dialsBefore)
}

func TestManager_PendingTokenDiscardedAfterHubTokenRotation(t *testing.T) {
	hub, srv := newFakeHub(t)
	creds := &mutableCreds{creds: credential.Credentials{HubAccessToken: "hub-1"}}
	m := NewManager(Options{
		BaseURL:              srv.URL + "/signalr",
		HubName:              "commonnotificationhub",
		NegotiateTimeout:     2 * time.Second,
		MaxReconnectAttempts: 5,
	}, creds, &recordingHandler{}, logger.NewNop())

	require.NoError(t, m.RefreshToken(context.Background()))
	creds.setHubToken("hub-2")
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	assert.Equal(t, int32(2), hub.negotiates.Load())
	hub.mu.Lock()
	assert.Equal(t, "conn-token-2", hub.lastQuery.Get("connectionToken"))
	assert.Equal(t, "hub-2", hub.lastQuery.Get("hubAccessToken"))
	hub.mu.Unlock()
}

func TestManager_StalePendingTokenIsNegotiatedAgain(t *testing.T) {
	hub, srv := newFakeHub(t)
	var mu sync.Mutex
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(srv, &recordingHandler{}, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))

	require.NoError(t, m.RefreshToken(context.Background()))
	mu.Lock()
	now = now.Add(pendingTokenMaxAge + time.Second)
	mu.Unlock()
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	assert.Equal(t, int32(2), hub.negotiates.Load())
}

func TestManager_RestartDropsPendingToken(t *testing.T) {
	hub, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.NoError(t, m.RefreshToken(context.Background()))
	require.True(t, m.Restart(context.Background()))

	assert.Equal(t, int32(3), hub.negotiates.Load())
	hub.mu.Lock()
	assert.Equal(t, "conn-token-3", hub.lastQuery.Get("connectionToken"))
	hub.mu.Unlock()
}

func TestManager_PongControlFrameMarksAlive(t *testing.T) {
	hub, srv := newFakeHub(t)
	m := newTestManager(srv, &recordingHandler{})
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	hub.nextFrame(t)
	assert.False(t, m.PingSnapshot().PongSeen)

	require.NoError(t, hub.lastConn().WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))

	assert.Eventually(t, func() bool { return m.PingSnapshot().PongSeen }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_SendPingRecordsTime(t *testing.T) {
	hub, srv := newFakeHub(t)
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(srv, &recordingHandler{}, WithClock(func() time.Time { return fixed }))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	hub.nextFrame(t)

	require.NoError(t, m.SendPing())

	ping := hub.nextFrame(t)
	assert.Equal(t, "Ping", ping["M"])
	assert.Equal(t, fixed, m.PingSnapshot().LastPing)
}
