package tokensource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

type recordingUpdater struct {
	mu      sync.Mutex
	current credential.Credentials
	calls   int
}

func (u *recordingUpdater) Update(_ context.Context, p credential.Patch, _ string) (credential.Credentials, []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	next, changed := u.current.Apply(p)
	u.current = next
	return next, changed
}

type tokenServer struct {
	mu     sync.Mutex
	body   string
	status int
	auth   string
	hits   atomic.Int32
}

func (s *tokenServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")
	w.WriteHeader(s.status)
	_, _ = w.Write([]byte(s.body))
}

func newWatcher(t *testing.T, cfg Config, u Updater, clock *time.Time) (*GitHubWatcher, *tokenServer) {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL + "/tokens.json"
	opts := []Option{}
	if clock != nil {
		opts = append(opts, WithClock(func() time.Time { return *clock }))
	}
	return NewGitHubWatcher(cfg, u, logger.NewNop(), opts...), ts
}

func TestGitHubWatcher_AppliesChangesWhenAutoUpdate(t *testing.T) {
	u := &recordingUpdater{}
	w, ts := newWatcher(t, Config{AutoUpdate: true}, u, nil)
	ctx := context.Background()

	ts.set(http.StatusOK, `{"authToken":"a1","hubAccessToken":"h1","lastUpdated":"2026-10-16T10:00:00"}`)
	n, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "h1", u.current.HubAccessToken)

	n, err = w.Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged content is skipped by hash")
	assert.Equal(t, 1, u.calls)

	ts.set(http.StatusOK, `{"authToken":"a1","hubAccessToken":"h2","lastUpdated":"2026-10-16T11:00:00"}`)
	n, err = w.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "h2", u.current.HubAccessToken)

	st := w.Status()
	require.Len(t, st.LastChanges, 1)
	assert.Equal(t, credential.FieldHubAccessToken, st.LastChanges[0].Field)
	assert.False(t, st.LastChangeAt.IsZero())
}

func TestGitHubWatcher_DetectOnlyWithoutAutoUpdate(t *testing.T) {
	u := &recordingUpdater{}
	w, ts := newWatcher(t, Config{AutoUpdate: false}, u, nil)
	ctx := context.Background()

	ts.set(http.StatusOK, `{"authToken":"a1"}`)
	n, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ts.set(http.StatusOK, `{"authToken":"a2","cookie":"sid=2"}`)
	n, err = w.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, u.calls)
}

func TestGitHubWatcher_PausesAfterMaxErrors(t *testing.T) {
	clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	w, ts := newWatcher(t, Config{MaxErrors: 2, Pause: 5 * time.Minute}, nil, &clock)
	ctx := context.Background()
	ts.set(http.StatusInternalServerError, "oops")

	_, err := w.Execute(ctx)
	require.Error(t, err)
	_, err = w.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, clock.Add(5*time.Minute), w.Status().PausedUntil)

	hits := ts.hits.Load()
	clock = clock.Add(time.Minute)
	_, err = w.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, hits, ts.hits.Load(), "no fetch while paused")

	clock = clock.Add(5 * time.Minute)
	ts.set(http.StatusOK, `{"authToken":"a"}`)
	_, err = w.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, hits+1, ts.hits.Load())
	assert.Zero(t, w.Status().ConsecutiveErrors)
}

func TestGitHubWatcher_InvalidJSONCountsAsError(t *testing.T) {
	w, ts := newWatcher(t, Config{}, nil, nil)
	ts.set(http.StatusOK, "not json")

	_, err := w.Execute(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, w.Status().ConsecutiveErrors)
}

func TestGitHubWatcher_SendsBearerToken(t *testing.T) {
	w, ts := newWatcher(t, Config{GitHubToken: "ghp_secret"}, nil, nil)
	ts.set(http.StatusOK, `{}`)

	_, _, err := w.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_secret", ts.auth)
}

func TestDiff_MasksValues(t *testing.T) {
	changes := Diff(
		TokenFile{HubAccessToken: "aaaaaaaaaaaaaaaaaaaa"},
		TokenFile{HubAccessToken: "bbbbbbbbbbbbbbbbbbbb", ConnectionToken: "c"},
	)

	require.Len(t, changes, 2)
	assert.Equal(t, credential.FieldHubAccessToken, changes[0].Field)
	assert.NotContains(t, changes[0].New, "bbbbbbbbbbbbbbbbbbbb")
	assert.Equal(t, fieldConnectionToken, changes[1].Field)
}

func TestDiffCredentials_IgnoresConnectionToken(t *testing.T) {
	current := credential.Credentials{AuthToken: "a", HubAccessToken: "h"}
	changes := DiffCredentials(current, TokenFile{AuthToken: "a", HubAccessToken: "h", ConnectionToken: "x"})
	assert.Empty(t, changes)
}
