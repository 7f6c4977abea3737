// Package tokensource watches a published tokens.json file and feeds rotated
// back-office credentials into the credential store.
package tokensource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

const (
	sourceName      = "github"
	maxTokenFileLen = 1 << 20

	fieldConnectionToken = "connectionToken"
)

// TokenFile is the published tokens.json document.
type TokenFile struct {
	AuthToken         string `json:"authToken"`
	HubAccessToken    string `json:"hubAccessToken"`
	ConnectionToken   string `json:"connectionToken"`
	SubscriptionToken string `json:"subscriptionToken"`
	Cookie            string `json:"cookie"`
	LastUpdated       string `json:"lastUpdated"`
}

// Patch maps the file onto the fields the credential store owns. The
// connection token is negotiated per session and never taken from the file.
func (f TokenFile) Patch() credential.Patch {
	return credential.Patch{
		AuthToken:      f.AuthToken,
		HubAccessToken: f.HubAccessToken,
		Cookie:         f.Cookie,
		SubscribeToken: f.SubscriptionToken,
	}
}

// FieldChange describes one differing field. Values are masked.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Diff lists the token fields that differ between two files.
func Diff(prev, next TokenFile) []FieldChange {
	pairs := []struct {
		name      string
		old, next string
	}{
		{credential.FieldAuthToken, prev.AuthToken, next.AuthToken},
		{credential.FieldHubAccessToken, prev.HubAccessToken, next.HubAccessToken},
		{fieldConnectionToken, prev.ConnectionToken, next.ConnectionToken},
		{credential.FieldSubscribeToken, prev.SubscriptionToken, next.SubscriptionToken},
		{credential.FieldCookie, prev.Cookie, next.Cookie},
	}

	var out []FieldChange
	for _, p := range pairs {
		if p.old == p.next {
			continue
		}
		out = append(out, FieldChange{
			Field: p.name,
			Old:   logutil.MaskSecret(p.old),
			New:   logutil.MaskSecret(p.next),
		})
	}
	return out
}

// DiffCredentials compares a file with the credentials currently in use.
func DiffCredentials(current credential.Credentials, file TokenFile) []FieldChange {
	return Diff(TokenFile{
		AuthToken:         current.AuthToken,
		HubAccessToken:    current.HubAccessToken,
		SubscriptionToken: current.SubscribeToken,
		Cookie:            current.Cookie,
		ConnectionToken:   file.ConnectionToken,
	}, file)
}

// Updater receives credential patches.
type Updater interface {
	Update(ctx context.Context, patch credential.Patch, source string) (credential.Credentials, []string)
}

type Config struct {
	URL         string
	GitHubToken string
	AutoUpdate  bool
	MaxErrors   int
	Pause       time.Duration
	Timeout     time.Duration
}

// Status is a snapshot of the watcher for the admin API.
type Status struct {
	LastCheckAt       time.Time     `json:"last_check_at"`
	LastChangeAt      time.Time     `json:"last_change_at"`
	LastChanges       []FieldChange `json:"last_changes,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	PausedUntil       time.Time     `json:"paused_until"`
	LastError         string        `json:"last_error,omitempty"`
	ContentHash       string        `json:"content_hash,omitempty"`
}

// GitHubWatcher polls the tokens file. It runs as a scheduled job.
type GitHubWatcher struct {
	cfg        Config
	updater    Updater
	httpClient *http.Client
	logger     logger.Interface
	now        func() time.Time

	mu     sync.Mutex
	last   TokenFile
	loaded bool
	status Status
}

type Option func(*GitHubWatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(w *GitHubWatcher) { w.httpClient = c }
}

func WithClock(now func() time.Time) Option {
	return func(w *GitHubWatcher) { w.now = now }
}

// NewGitHubWatcher builds a watcher. A GitHub token, when set, is sent as a
// bearer token so private repositories can be read.
func NewGitHubWatcher(cfg Config, updater Updater, log logger.Interface, opts ...Option) *GitHubWatcher {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 5
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	w := &GitHubWatcher{
		cfg:     cfg,
		updater: updater,
		logger:  log.Named("tokensource"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.httpClient == nil {
		w.httpClient = newHTTPClient(cfg)
	}
	return w
}

func newHTTPClient(cfg Config) *http.Client {
	base := &http.Client{Timeout: cfg.Timeout}
	if cfg.GitHubToken == "" {
		return base
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken}))
	client.Timeout = cfg.Timeout
	return client
}

// Fetch downloads and decodes the tokens file and returns it with the hash of
// its raw content.
func (w *GitHubWatcher) Fetch(ctx context.Context) (TokenFile, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return TokenFile{}, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return TokenFile{}, "", fmt.Errorf("failed to fetch tokens file: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenFileLen))
	if err != nil {
		return TokenFile{}, "", fmt.Errorf("failed to read tokens file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenFile{}, "", fmt.Errorf("failed to fetch tokens file: status %d, body: %s",
			resp.StatusCode, logutil.TruncateForLog(string(body), 200))
	}

	var file TokenFile
	if err := json.Unmarshal(body, &file); err != nil {
		return TokenFile{}, "", fmt.Errorf("failed to decode tokens file: %w", err)
	}

	sum := sha256.Sum256(body)
	return file, hex.EncodeToString(sum[:]), nil
}

// Execute runs one check and returns the number of changed fields. While
// paused after repeated failures it does nothing.
func (w *GitHubWatcher) Execute(ctx context.Context) (int, error) {
	now := w.now()

	w.mu.Lock()
	if now.Before(w.status.PausedUntil) {
		w.mu.Unlock()
		return 0, nil
	}
	w.mu.Unlock()

	file, hash, err := w.Fetch(ctx)

	w.mu.Lock()
	w.status.LastCheckAt = now
	if err != nil {
		w.status.ConsecutiveErrors++
		w.status.LastError = err.Error()
		errs := w.status.ConsecutiveErrors
		if errs >= w.cfg.MaxErrors {
			w.status.PausedUntil = now.Add(w.cfg.Pause)
			w.status.ConsecutiveErrors = 0
		}
		w.mu.Unlock()

		if errs >= w.cfg.MaxErrors {
			w.logger.Warnw("too many token source errors, pausing",
				"errors", errs,
				"pause", w.cfg.Pause,
				"error", err,
			)
		}
		return 0, err
	}

	w.status.ConsecutiveErrors = 0
	w.status.LastError = ""
	if w.loaded && hash == w.status.ContentHash {
		w.mu.Unlock()
		return 0, nil
	}

	first := !w.loaded
	changes := Diff(w.last, file)
	w.last = file
	w.loaded = true
	w.status.ContentHash = hash
	if !first {
		w.status.LastChangeAt = now
		w.status.LastChanges = changes
	}
	w.mu.Unlock()

	if first {
		w.logger.Infow("token source loaded", "last_updated", file.LastUpdated)
	} else {
		w.logger.Infow("token change detected",
			"fields", fieldNames(changes),
			"last_updated", file.LastUpdated,
		)
	}

	if !w.cfg.AutoUpdate || w.updater == nil {
		if first {
			return 0, nil
		}
		return len(changes), nil
	}
	_, applied := w.updater.Update(ctx, file.Patch(), sourceName)
	return len(applied), nil
}

func (w *GitHubWatcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.LastChanges = append([]FieldChange(nil), w.status.LastChanges...)
	return s
}

func fieldNames(changes []FieldChange) []string {
	names := make([]string, 0, len(changes))
	for _, c := range changes {
		names = append(names, c.Field)
	}
	return names
}
