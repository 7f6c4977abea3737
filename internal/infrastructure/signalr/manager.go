// Package signalr maintains the single classic SignalR session to the back
// office notification hub: negotiate, connect, subscribe, receive, and a
// bounded reconnect.
package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/goroutine"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxFrameSize     = 1 << 20

	// A pre-negotiated token older than this is negotiated again.
	pendingTokenMaxAge = 2 * time.Minute
)

// Options is the static session configuration.
type Options struct {
	BaseURL              string
	HubName              string
	ClientProtocol       string
	SubscriptionIDs      []int
	Origin               string
	UserAgent            string
	NegotiateTimeout     time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// CredentialSource supplies the current tokens on every connect.
type CredentialSource interface {
	Get() credential.Credentials
}

// FrameHandler consumes every inbound text frame. It must not block for long.
type FrameHandler interface {
	HandleFrame(raw []byte)
}

// MetricsRecorder receives connection counters. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	SetConnectionState(state int, name string)
	IncReconnect(result string)
	IncFrame()
	IncTokenRefresh(result string)
}

type nopRecorder struct{}

func (nopRecorder) SetConnectionState(int, string) {}
func (nopRecorder) IncReconnect(string)            {}
func (nopRecorder) IncFrame()                      {}
func (nopRecorder) IncTokenRefresh(string)         {}

// Stats is a point-in-time view of the session for status reporting.
type Stats struct {
	State             string    `json:"state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	MaxAttempts       int       `json:"max_reconnect_attempts"`
	Session           uint64    `json:"session"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastPing          time.Time `json:"last_ping"`
	LastPong          time.Time `json:"last_pong"`
	FramesReceived    uint64    `json:"frames_received"`
	Reconnects        uint64    `json:"reconnects"`
	LastError         string    `json:"last_error,omitempty"`
}

// Manager owns the socket. Supervisors only read its state and call
// Reconnect; all writes go through writeMu.
type Manager struct {
	opts       Options
	creds      CredentialSource
	handler    FrameHandler
	httpClient *http.Client
	dialer     *websocket.Dialer
	metrics    MetricsRecorder
	log        logger.Interface
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	conn         *websocket.Conn
	connToken    string
	pendingToken string
	pendingHub   string
	pendingAt    time.Time
	session      uint64
	connectedAt  time.Time
	lastErr      string

	writeMu sync.Mutex

	state    atomic.Int32
	seq      atomic.Int64
	attempts atomic.Int32
	ping     PingState

	reconnecting atomic.Bool
	reconnectMu  sync.Mutex

	framesReceived atomic.Uint64
	reconnects     atomic.Uint64

	observersMu sync.RWMutex
	observers   []StateObserver
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithClock replaces time.Now for ping bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleep replaces the wait between reconnect attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func NewManager(opts Options, creds CredentialSource, handler FrameHandler, log logger.Interface, options ...Option) *Manager {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.NegotiateTimeout <= 0 {
		opts.NegotiateTimeout = 15 * time.Second
	}

	m := &Manager{
		opts:       opts,
		creds:      creds,
		handler:    handler,
		httpClient: &http.Client{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		metrics: nopRecorder{},
		log:     log.Named("signalr"),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, o := range options {
		o(m)
	}
	m.metrics.SetConnectionState(int(StateDisconnected), StateDisconnected.String())
	return m
}

// OnStateChange registers an observer. Register before Connect.
func (m *Manager) OnStateChange(fn StateObserver) {
	m.observersMu.Lock()
	m.observers = append(m.observers, fn)
	m.observersMu.Unlock()
}

func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

func (m *Manager) setState(to ConnectionState) {
	from := ConnectionState(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.metrics.SetConnectionState(int(to), to.String())
	m.log.Infow("connection state changed", "from", from.String(), "to", to.String())

	m.observersMu.RLock()
	observers := m.observers
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn(from, to)
	}
}

type negotiateResponse struct {
	ConnectionToken  string  `json:"ConnectionToken"`
	ConnectionID     string  `json:"ConnectionId"`
	KeepAliveTimeout float64 `json:"KeepAliveTimeout"`
	ProtocolVersion  string  `json:"ProtocolVersion"`
	TryWebSockets    bool    `json:"TryWebSockets"`
}

// Negotiate performs the HTTP handshake and returns a fresh connection token.
// Failures are *NegotiationError.
func (m *Manager) Negotiate(ctx context.Context) (string, error) {
	creds := m.creds.Get()
	if !creds.Ready() {
		return "", &NegotiationError{Err: ErrNoHubAccessToken}
	}

	endpoint, err := m.endpoint("negotiate", false)
	if err != nil {
		return "", &NegotiationError{Err: err}
	}
	q := url.Values{}
	q.Set("hubAccessToken", creds.HubAccessToken)
	q.Set("clientProtocol", m.opts.ClientProtocol)
	q.Set("connectionData", m.connectionData())
	q.Set("_", strconv.FormatInt(m.now().UnixMilli(), 10))
	endpoint.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, m.opts.NegotiateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", &NegotiationError{Err: err}
	}
	m.decorate(req.Header, creds)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &NegotiationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", &NegotiationError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &NegotiationError{StatusCode: resp.StatusCode, Body: logutil.TruncateForLog(string(body), 200)}
	}

	var nr negotiateResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return "", &NegotiationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if nr.ConnectionToken == "" {
		return "", &NegotiationError{StatusCode: resp.StatusCode, Err: ErrMissingConnectionToken}
	}

	m.log.Debugw("negotiated connection token",
		"connection_id", nr.ConnectionID,
		"protocol", nr.ProtocolVersion,
		"token", logutil.MaskSecret(nr.ConnectionToken),
	)
	return nr.ConnectionToken, nil
}

// RefreshToken negotiates a token ahead of time; the next connect uses it
// instead of negotiating again, as long as the hub token has not rotated and
// the token is younger than pendingTokenMaxAge.
func (m *Manager) RefreshToken(ctx context.Context) error {
	hub := m.creds.Get().HubAccessToken
	token, err := m.Negotiate(ctx)
	if err != nil {
		m.metrics.IncTokenRefresh("failure")
		return err
	}
	m.mu.Lock()
	m.pendingToken = token
	m.pendingHub = hub
	m.pendingAt = m.now()
	m.mu.Unlock()
	m.metrics.IncTokenRefresh("success")
	return nil
}

// Connect opens a new session. ctx bounds the session lifetime: the receive
// loop and any reconnect it triggers stop when ctx is done.
func (m *Manager) Connect(ctx context.Context) error {
	conn, session, err := m.connect(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}
	m.startReceive(ctx, conn, session)
	return nil
}

// connect opens and subscribes a socket without reading from it; the caller
// starts the receive loop with startReceive.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, uint64, error) {
	m.setState(StateNegotiating)
	creds := m.creds.Get()

	token := m.takePendingToken(creds.HubAccessToken)
	if token == "" {
		var err error
		token, err = m.Negotiate(ctx)
		if err != nil {
			return nil, 0, m.fail(&ConnectionError{Op: "negotiate", Err: err})
		}
	}

	wsURL, err := m.socketURL(creds, token)
	if err != nil {
		return nil, 0, m.fail(&ConnectionError{Op: "dial", Err: err})
	}

	header := http.Header{}
	m.decorate(header, creds)

	conn, resp, err := m.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		ce := &ConnectionError{Op: "dial", Err: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, 0, m.fail(ce)
	}

	frame, err := BuildSubscribeFrame(m.opts.HubName, m.opts.SubscriptionIDs, creds.SubscribeToken, m.seq.Add(1)-1)
	if err != nil {
		conn.Close()
		return nil, 0, m.fail(&ConnectionError{Op: "subscribe", Err: err})
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return nil, 0, m.fail(&ConnectionError{Op: "subscribe", Err: err})
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		m.MarkAlive()
		return nil
	})

	m.mu.Lock()
	m.session++
	session := m.session
	m.conn = conn
	m.connToken = token
	m.connectedAt = m.now()
	m.lastErr = ""
	m.mu.Unlock()

	m.ping.Reset()
	m.setState(StateConnected)
	m.log.Infow("signalr session opened",
		"session", session,
		"hub", m.opts.HubName,
		"subscriptions", m.opts.SubscriptionIDs,
	)
	return conn, session, nil
}

func (m *Manager) startReceive(ctx context.Context, conn *websocket.Conn, session uint64) {
	goroutine.SafeGo(m.log, "signalr-receive", func() {
		m.receiveLoop(ctx, conn, session)
	})
}

func (m *Manager) fail(err *ConnectionError) error {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	return err
}

func (m *Manager) receiveLoop(ctx context.Context, conn *websocket.Conn, session uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !m.isCurrent(conn, session) {
				return
			}
			m.log.Warnw("signalr read failed, reconnecting", "session", session, "error", err)
			m.Reconnect(ctx)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		m.framesReceived.Add(1)
		m.metrics.IncFrame()
		m.handler.HandleFrame(data)
	}
}

func (m *Manager) isCurrent(conn *websocket.Conn, session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == conn && m.session == session
}

// Disconnect closes the socket if open. Calling it again is a no-op.
func (m *Manager) Disconnect() {
	m.closeConn()
	m.setState(StateDisconnected)
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connToken = ""
	if conn != nil {
		// Invalidate the session before closing so its receive loop exits quietly.
		m.session++
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()
}

// Reconnect replaces the session. Only one reconnect runs at a time; a
// concurrent call returns false immediately. Each call spends at most the
// remaining attempt budget; success refills it, exhaustion leaves the
// manager Failed.
func (m *Manager) Reconnect(ctx context.Context) bool {
	return m.reconnect(ctx, false)
}

// Restart refills the reconnect budget and reconnects. It is the way out of
// StateFailed after credentials change or an operator asks for it. A
// pre-negotiated token is dropped since it may belong to the old credentials.
func (m *Manager) Restart(ctx context.Context) bool {
	return m.reconnect(ctx, true)
}

func (m *Manager) reconnect(ctx context.Context, refill bool) bool {
	if m.reconnecting.Swap(true) {
		m.log.Debugw("reconnect already in flight, skipping")
		return false
	}
	conn, session, ok := m.runReconnect(ctx, refill)
	m.reconnecting.Store(false)

	// The new session reads only once the guard is released, so a socket
	// that dies straight away can still trigger its own reconnect.
	if ok {
		m.startReceive(ctx, conn, session)
	}
	return ok
}

func (m *Manager) runReconnect(ctx context.Context, refill bool) (*websocket.Conn, uint64, bool) {
	m.reconnectMu.Lock()
	defer m.reconnectMu.Unlock()

	if refill {
		m.attempts.Store(0)
		m.mu.Lock()
		m.pendingToken = ""
		m.mu.Unlock()
	}

	maxAttempts := int32(m.opts.MaxReconnectAttempts)
	delay := backoff.NewConstantBackOff(m.opts.ReconnectDelay)

	m.setState(StateReconnecting)
	for m.attempts.Load() < maxAttempts {
		attempt := m.attempts.Add(1)
		m.closeConn()

		if err := m.sleep(ctx, delay.NextBackOff()); err != nil {
			m.setState(StateDisconnected)
			return nil, 0, false
		}

		conn, session, err := m.connect(ctx)
		if err != nil {
			m.metrics.IncReconnect("failure")
			m.log.Warnw("reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return nil, 0, false
			}
			m.setState(StateReconnecting)
			continue
		}

		m.attempts.Store(0)
		m.reconnects.Add(1)
		m.metrics.IncReconnect("success")
		m.log.Infow("reconnected", "attempt", attempt)
		return conn, session, true
	}

	m.metrics.IncReconnect("exhausted")
	m.log.Errorw("reconnect attempts exhausted, giving up until reset", "max_attempts", maxAttempts)
	m.setState(StateFailed)
	return nil, 0, false
}

// SendPing writes a hub Ping invocation plus a WebSocket ping control frame.
func (m *Manager) SendPing() error {
	frame, err := BuildPingFrame(m.opts.HubName, m.seq.Add(1)-1)
	if err != nil {
		return err
	}
	if err := m.send(frame); err != nil {
		return err
	}
	m.ping.MarkPing(m.now())

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		m.writeMu.Lock()
		err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		m.writeMu.Unlock()
	}
	return err
}

func (m *Manager) send(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// MarkAlive records a liveness signal (keep-alive, invocation result or pong).
func (m *Manager) MarkAlive() {
	m.ping.MarkPong(m.now())
}

func (m *Manager) PingSnapshot() PingSnapshot {
	return m.ping.Snapshot()
}

func (m *Manager) Stats() Stats {
	snap := m.ping.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:             m.State().String(),
		ReconnectAttempts: int(m.attempts.Load()),
		MaxAttempts:       m.opts.MaxReconnectAttempts,
		Session:           m.session,
		ConnectedAt:       m.connectedAt,
		LastPing:          snap.LastPing,
		LastPong:          snap.LastPong,
		FramesReceived:    m.framesReceived.Load(),
		Reconnects:        m.reconnects.Load(),
		LastError:         m.lastErr,
	}
}

// takePendingToken hands out the pre-negotiated token once, provided it was
// negotiated with hub and is still fresh.
func (m *Manager) takePendingToken(hub string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := m.pendingToken
	m.pendingToken = ""
	if token == "" || m.pendingHub != hub || m.now().Sub(m.pendingAt) > pendingTokenMaxAge {
		return ""
	}
	return token
}

func (m *Manager) connectionData() string {
	b, _ := json.Marshal([]map[string]string{{"name": m.opts.HubName}})
	return string(b)
}

// endpoint resolves {base}/{name}, switching to ws(s) when ws is set.
func (m *Manager) endpoint(name string, ws bool) (*url.URL, error) {
	u, err := url.Parse(m.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if ws {
		switch u.Scheme {
		case "https", "wss":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name
	return u, nil
}

func (m *Manager) socketURL(creds credential.Credentials, token string) (string, error) {
	u, err := m.endpoint("connect", true)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("transport", "webSockets")
	q.Set("clientProtocol", m.opts.ClientProtocol)
	q.Set("hubAccessToken", creds.HubAccessToken)
	q.Set("connectionToken", token)
	q.Set("connectionData", m.connectionData())
	q.Set("tid", strconv.Itoa(rand.IntN(11)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) decorate(h http.Header, creds credential.Credentials) {
	if creds.Cookie != "" {
		h.Set("Cookie", creds.Cookie)
	}
	if m.opts.Origin != "" {
		h.Set("Origin", m.opts.Origin)
	}
	if m.opts.UserAgent != "" {
		h.Set("User-Agent", m.opts.UserAgent)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
