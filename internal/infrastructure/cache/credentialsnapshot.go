package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bowatch/bowatch/internal/domain/credential"
)

const credentialsKey = "credentials"

// CredentialSnapshotStore persists the latest credentials so rotated tokens
// survive a restart.
type CredentialSnapshotStore struct {
	client *redis.Client
	key    string
}

func NewCredentialSnapshotStore(client *redis.Client, prefix string) *CredentialSnapshotStore {
	key := credentialsKey
	if prefix != "" {
		key = prefix + ":" + credentialsKey
	}
	return &CredentialSnapshotStore{client: client, key: key}
}

func (s *CredentialSnapshotStore) Save(ctx context.Context, c credential.Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Load returns the stored snapshot; found is false when none exists.
func (s *CredentialSnapshotStore) Load(ctx context.Context) (credential.Credentials, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return credential.Credentials{}, false, nil
	}
	if err != nil {
		return credential.Credentials{}, false, fmt.Errorf("failed to load credentials: %w", err)
	}

	var c credential.Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return credential.Credentials{}, false, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return c, true, nil
}
