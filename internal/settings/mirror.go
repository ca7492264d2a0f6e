package settings

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const mirrorKey = "selinggonet:app_settings"

// Mirror keeps the last known settings in Redis without expiry, so pages
// still render with the operator's branding while the database is down.
type Mirror struct {
	client *redis.Client
}

// NewMirror constructs a Mirror. A nil client disables it.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

// Store writes s to the mirror.
func (m *Mirror) Store(ctx context.Context, s AppSettings) error {
	if m == nil || m.client == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, mirrorKey, raw, 0).Err()
}

// Load returns the mirrored settings or ErrNotFound.
func (m *Mirror) Load(ctx context.Context) (AppSettings, error) {
	if m == nil || m.client == nil {
		return AppSettings{}, ErrNotFound
	}
	raw, err := m.client.Get(ctx, mirrorKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return AppSettings{}, ErrNotFound
	}
	if err != nil {
		return AppSettings{}, err
	}
	var s AppSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return AppSettings{}, err
	}
	return s, nil
}
