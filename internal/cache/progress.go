package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	progressKeyPrefix = "plagcode:scan_progress:"
	progressTTL       = 12 * time.Hour
)

// setIfGreater stores ARGV[1] only when it exceeds the current value and returns the
// value held after the call
var setIfGreater = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '-1')
local v = tonumber(ARGV[1])
if v > cur then
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
	return v
end
return cur
`)

// ProgressMirror publishes scan progress to Redis so any API replica can serve it
// without a store read. The stored value never decreases. A nil client disables it.
type ProgressMirror struct {
	client redis.UniversalClient
}

func NewProgressMirror(client redis.UniversalClient) *ProgressMirror {
	return &ProgressMirror{client: client}
}

func progressKey(scanID string) string {
	return progressKeyPrefix + scanID
}

// Publish raises the mirrored progress of scanID to progress
func (m *ProgressMirror) Publish(ctx context.Context, scanID string, progress int) error {
	if m == nil || m.client == nil {
		return nil
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress out of range: %d", progress)
	}

	rkey := progressKey(scanID)
	err := setIfGreater.Run(ctx, m.client, []string{rkey}, progress, int(progressTTL.Seconds())).Err()
	if err != nil {
		log.Error().Err(err).
			Int("progress", progress).
			Str("scanID", scanID).
			Str("redisKey", rkey).
			Msg("Failed to update progress in Redis")
		return fmt.Errorf("failed to update progress in Redis: %w", err)
	}

	log.Trace().
		Int("progress", progress).
		Str("scanID", scanID).
		Msg("Progress updated in Redis")
	return nil
}

// Get returns the mirrored progress and whether one was published
func (m *ProgressMirror) Get(ctx context.Context, scanID string) (int, bool, error) {
	if m == nil || m.client == nil {
		return 0, false, nil
	}
	raw, err := m.client.Get(ctx, progressKey(scanID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read progress from Redis: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid progress value %q: %w", raw, err)
	}
	return v, true, nil
}
