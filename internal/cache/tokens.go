// Package cache holds Redis backed caches shared by scan runners.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "plagcode:tokens:"

// TokenCache stores normalized token streams keyed by content checksum and options.
// A nil client disables it.
type TokenCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewTokenCache(client redis.UniversalClient, ttl time.Duration) *TokenCache {
	return &TokenCache{client: client, ttl: ttl}
}

// TokenKey identifies one normalization result
func TokenKey(checksum, language string, opts plagiarism.Options) string {
	return fmt.Sprintf("%s%s:%s:c%t:i%t", tokenKeyPrefix, checksum, language, opts.IgnoreComments, opts.NormalizeIdentifiers)
}

// Get returns the cached tokens and whether they were present
func (c *TokenCache) Get(ctx context.Context, key string) ([]plagiarism.Token, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read token cache: %w", err)
	}

	var tokens []plagiarism.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		// corrupt entries are treated as a miss and overwritten on the next Set
		return nil, false, nil
	}
	return tokens, true, nil
}

func (c *TokenCache) Set(ctx context.Context, key string, tokens []plagiarism.Token) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}
