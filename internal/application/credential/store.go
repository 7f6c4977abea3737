// Package credential holds the live back-office credentials and fans out
// rotations to the components that depend on them.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

const defaultLogCapacity = 100

// ChangeSubscriber is told about every update that changed at least one field.
type ChangeSubscriber interface {
	OnCredentialChange(ctx context.Context, current credential.Credentials, changed []string) error
}

// ChangeSubscriberFunc adapts a function to ChangeSubscriber.
type ChangeSubscriberFunc func(ctx context.Context, current credential.Credentials, changed []string) error

func (f ChangeSubscriberFunc) OnCredentialChange(ctx context.Context, current credential.Credentials, changed []string) error {
	return f(ctx, current, changed)
}

// Snapshotter persists credentials across restarts.
type Snapshotter interface {
	Save(ctx context.Context, c credential.Credentials) error
	Load(ctx context.Context) (credential.Credentials, bool, error)
}

// UpdateEntry is one line of the update log.
type UpdateEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Changed []string  `json:"changed"`
}

type Store struct {
	mu          sync.RWMutex
	current     credential.Credentials
	updates     []UpdateEntry
	logCap      int
	subscribers []ChangeSubscriber
	snapshot    Snapshotter
	logger      logger.Interface
	now         func() time.Time
}

// NewStore seeds the store with the configured credentials. snapshot may be nil.
func NewStore(initial credential.Credentials, snapshot Snapshotter, log logger.Interface) *Store {
	if initial.Source == "" {
		initial.Source = "config"
	}
	return &Store{
		current:  initial,
		logCap:   defaultLogCapacity,
		snapshot: snapshot,
		logger:   log.Named("credentials"),
		now:      biztime.NowUTC,
	}
}

// Restore replaces the configured values with a persisted snapshot when one
// exists and is ready to use.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.snapshot == nil {
		return false, nil
	}
	saved, found, err := s.snapshot.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to restore credentials: %w", err)
	}
	if !found || !saved.Ready() {
		return false, nil
	}

	s.mu.Lock()
	s.current = saved
	s.mu.Unlock()

	s.logger.Infow("credentials restored from snapshot",
		"source", saved.Source,
		"updated_at", saved.UpdatedAt,
	)
	return true, nil
}

func (s *Store) Get() credential.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Subscribe(sub ChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Update merges patch into the current credentials and returns the resulting
// snapshot with the names of the fields that changed. Subscribers run only
// when something changed; their failures are logged, not returned.
func (s *Store) Update(ctx context.Context, patch credential.Patch, source string) (credential.Credentials, []string) {
	s.mu.Lock()
	next, changed := s.current.Apply(patch)
	if len(changed) == 0 {
		cur := s.current
		s.mu.Unlock()
		return cur, nil
	}

	next.UpdatedAt = s.now()
	next.Source = source
	s.current = next
	s.appendLog(UpdateEntry{At: next.UpdatedAt, Source: source, Changed: changed})

	subscribers := make([]ChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	s.logger.Infow("credentials updated", "source", source, "changed", changed)

	if s.snapshot != nil {
		if err := s.snapshot.Save(ctx, next); err != nil {
			s.logger.Warnw("failed to persist credentials snapshot", "error", err)
		}
	}

	for _, sub := range subscribers {
		if err := sub.OnCredentialChange(ctx, next, changed); err != nil {
			s.logger.Errorw("subscriber failed to handle credential change",
				"subscriber", fmt.Sprintf("%T", sub),
				"error", err,
			)
		}
	}
	return next, changed
}

func (s *Store) appendLog(e UpdateEntry) {
	s.updates = append(s.updates, e)
	if over := len(s.updates) - s.logCap; over > 0 {
		s.updates = append([]UpdateEntry(nil), s.updates[over:]...)
	}
}

// Updates returns the update log, newest first.
func (s *Store) Updates() []UpdateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UpdateEntry, len(s.updates))
	for i, e := range s.updates {
		out[len(s.updates)-1-i] = e
	}
	return out
}
