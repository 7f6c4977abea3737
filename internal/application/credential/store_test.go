package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

type memSnapshot struct {
	saved   credential.Credentials
	found   bool
	saves   int
	loadErr error
}

func (m *memSnapshot) Save(_ context.Context, c credential.Credentials) error {
	m.saved = c
	m.found = true
	m.saves++
	return nil
}

func (m *memSnapshot) Load(context.Context) (credential.Credentials, bool, error) {
	return m.saved, m.found, m.loadErr
}

func TestStore_UpdateReportsChangedFields(t *testing.T) {
	s := NewStore(credential.Credentials{HubAccessToken: "hub-1", AuthToken: "auth-1"}, nil, logger.NewNop())

	got, changed := s.Update(context.Background(), credential.Patch{
		HubAccessToken: "hub-2",
		AuthToken:      "auth-1",
	}, "manual")

	assert.Equal(t, []string{credential.FieldHubAccessToken}, changed)
	assert.Equal(t, "hub-2", got.HubAccessToken)
	assert.Equal(t, "manual", got.Source)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, got, s.Get())
}

func TestStore_NoChangeSkipsSubscribersAndLog(t *testing.T) {
	s := NewStore(credential.Credentials{HubAccessToken: "hub"}, nil, logger.NewNop())
	calls := 0
	s.Subscribe(ChangeSubscriberFunc(func(context.Context, credential.Credentials, []string) error {
		calls++
		return nil
	}))

	_, changed := s.Update(context.Background(), credential.Patch{HubAccessToken: "hub"}, "github")

	assert.Empty(t, changed)
	assert.Zero(t, calls)
	assert.Empty(t, s.Updates())
}

func TestStore_SubscriberErrorDoesNotStopOthers(t *testing.T) {
	s := NewStore(credential.Credentials{}, nil, logger.NewNop())
	var seen []string
	s.Subscribe(ChangeSubscriberFunc(func(context.Context, credential.Credentials, []string) error {
		return errors.New("boom")
	}))
	s.Subscribe(ChangeSubscriberFunc(func(_ context.Context, c credential.Credentials, changed []string) error {
		seen = changed
		return nil
	}))

	s.Update(context.Background(), credential.Patch{Cookie: "sid=1"}, "manual")

	assert.Equal(t, []string{credential.FieldCookie}, seen)
}

func TestStore_UpdateLogIsBoundedNewestFirst(t *testing.T) {
	s := NewStore(credential.Credentials{}, nil, logger.NewNop())
	s.logCap = 3

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		s.Update(context.Background(), credential.Patch{AuthToken: v}, "src-"+v)
	}

	log := s.Updates()
	require.Len(t, log, 3)
	assert.Equal(t, "src-e", log[0].Source)
	assert.Equal(t, "src-c", log[2].Source)
}

func TestStore_PersistsAndRestoresSnapshot(t *testing.T) {
	snap := &memSnapshot{}
	first := NewStore(credential.Credentials{HubAccessToken: "old"}, snap, logger.NewNop())
	first.Update(context.Background(), credential.Patch{HubAccessToken: "rotated"}, "github")
	assert.Equal(t, 1, snap.saves)

	second := NewStore(credential.Credentials{HubAccessToken: "old"}, snap, logger.NewNop())
	restored, err := second.Restore(context.Background())

	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, "rotated", second.Get().HubAccessToken)
}

func TestStore_RestoreIgnoresUnreadySnapshot(t *testing.T) {
	snap := &memSnapshot{found: true, saved: credential.Credentials{AuthToken: "only-auth"}}
	s := NewStore(credential.Credentials{HubAccessToken: "cfg"}, snap, logger.NewNop())

	restored, err := s.Restore(context.Background())

	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, "cfg", s.Get().HubAccessToken)
}

func TestStore_RestoreError(t *testing.T) {
	snap := &memSnapshot{loadErr: errors.New("redis down")}
	s := NewStore(credential.Credentials{}, snap, logger.NewNop())

	_, err := s.Restore(context.Background())
	assert.Error(t, err)
}
