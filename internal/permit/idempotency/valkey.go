package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const keyPrefix = "almaroof:idem:"

// ValkeyStore keeps the key set in Valkey so every API replica shares it.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyStore returns a Store backed by client.
func NewValkeyStore(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

// Acquire issues SET key 1 NX PX ttl. A nil reply means the key is already held.
func (s *ValkeyStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	cmd := s.client.B().Set().Key(keyPrefix + key).Value("1").Nx().Px(ttl).Build()
	err := s.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquiring idempotency key in valkey: %w", err)
	}
	return true, nil
}

// Release deletes key.
func (s *ValkeyStore) Release(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(keyPrefix + key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("releasing idempotency key in valkey: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// NewValkeyClient connects to a single Valkey address.
func NewValkeyClient(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", addr, err)
	}
	return client, nil
}
