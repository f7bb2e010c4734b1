package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

const keyPrefix = "aipulse:"

// ValkeyConfig holds connection settings for the Valkey cache.
type ValkeyConfig struct {
	Address  string
	Password string
}

// Valkey caches values in a Valkey (or Redis) server.
type Valkey struct {
	client valkey.Client
}

var _ Cache = (*Valkey)(nil)

// NewValkey connects to the server and verifies it answers PING.
func NewValkey(ctx context.Context, cfg ValkeyConfig) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{cfg.Address},
		Password:         cfg.Password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	slog.Info("connected to valkey", "address", cfg.Address)
	return &Valkey{client: client}, nil
}

func (v *Valkey) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(keyPrefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (v *Valkey) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	cmd := v.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(data)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (v *Valkey) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}

	if err := v.client.Do(ctx, v.client.B().Del().Key(prefixed...).Build()).Error(); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

func (v *Valkey) Close() {
	v.client.Close()
}
