// Package stream carries scan jobs over a Redis stream consumed by a consumer group.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RishiKendai/plagcode/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Runner executes one queued scan
type Runner interface {
	Run(ctx context.Context, scanID string) error
}

type Consumer struct {
	client              redis.UniversalClient
	streamKey           string
	consumerGroup       string
	consumerName        string
	runner              Runner
	retryHandler        *RetryHandler
	retentionDuration   time.Duration
	pelRecoveryInterval time.Duration
	pelMinIdle          time.Duration
	cleanupInterval     time.Duration
	lastPELCheck        time.Time
	sem                 chan struct{} // Semaphore for bounded concurrency
	wg                  sync.WaitGroup
	logger              zerolog.Logger
}

func NewConsumer(
	client redis.UniversalClient,
	streamKey string,
	consumerGroup string,
	consumerName string,
	runner Runner,
	retryHandler *RetryHandler,
	retentionDuration time.Duration,
	maxConcurrent int,
) *Consumer {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Consumer{
		client:              client,
		streamKey:           streamKey,
		consumerGroup:       consumerGroup,
		consumerName:        consumerName,
		runner:              runner,
		retryHandler:        retryHandler,
		retentionDuration:   retentionDuration,
		pelRecoveryInterval: 30 * time.Second,
		pelMinIdle:          time.Minute,
		cleanupInterval:     time.Hour,
		lastPELCheck:        time.Now(),
		sem:                 make(chan struct{}, maxConcurrent),
		logger:              logger.Named("stream"),
	}
}

// Start consumes until ctx is done, then waits for in-flight scans
func (c *Consumer) Start(ctx context.Context) error {
	defer c.wg.Wait()

	if err := c.createConsumerGroup(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to create consumer group, may be already exists")
	}

	// Recover PEL messages on startup (handle crash recovery)
	c.logger.Info().Msg("Recovering PEL messages on startup")
	if err := c.recoverPEL(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to recover PEL messages on startup")
	}
	c.lastPELCheck = time.Now()

	if c.retentionDuration > 0 {
		go c.runCleanupPeriodically(ctx)
		c.logger.Info().
			Dur("cleanup_interval", c.cleanupInterval).
			Dur("retention", c.retentionDuration).
			Msg("Started cleanup goroutine")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.consume(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error().Err(err).Msg("Error consuming messages")
				time.Sleep(time.Second) // Brief pause before retrying
			}
		}
	}
}

func (c *Consumer) createConsumerGroup(ctx context.Context) error {
	// MKSTREAM creates the stream if it doesn't exist; "0" picks up jobs queued before the group
	err := c.client.XGroupCreateMkStream(ctx, c.streamKey, c.consumerGroup, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			c.logger.Debug().
				Str("group", c.consumerGroup).
				Msg("Consumer group already exists")
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info().
		Str("group", c.consumerGroup).
		Str("stream", c.streamKey).
		Msg("Created consumer group")
	return nil
}

// recoverPEL claims messages other consumers left idle in the Pending Entry List
func (c *Consumer) recoverPEL(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.streamKey,
		Group:  c.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	messageIDs := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Idle >= c.pelMinIdle {
			messageIDs = append(messageIDs, p.ID)
		}
	}
	if len(messageIDs) == 0 {
		return nil
	}

	c.logger.Info().
		Int("claimable", len(messageIDs)).
		Msg("Attempting to claim idle pending messages")

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.streamKey,
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		MinIdle:  c.pelMinIdle,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim messages: %w", err)
	}

	c.logger.Info().Int("claimed", len(claimed)).Msg("Claimed PEL messages")
	for _, msg := range claimed {
		if !c.dispatch(ctx, msg) {
			return ctx.Err()
		}
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context) error {
	if time.Since(c.lastPELCheck) > c.pelRecoveryInterval {
		if err := c.recoverPEL(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to recover PEL messages")
		}
		c.lastPELCheck = time.Now()
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamKey, ">"},
		Count:    int64(cap(c.sem)),
		Block:    time.Second,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		if stream.Stream != c.streamKey {
			continue
		}
		for _, msg := range stream.Messages {
			if !c.dispatch(ctx, msg) {
				return nil
			}
		}
	}
	return nil
}

// dispatch waits for a free slot and processes msg in the background. It returns
// false when ctx ends first; the message then stays pending for recovery.
func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) bool {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error().
				Err(err).
				Str("message_id", msg.ID).
				Msg("Failed to process message")
		}
	}()
	return true
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	fields := make(map[string]string, len(msg.Values))
	for key, val := range msg.Values {
		if value, ok := val.(string); ok {
			fields[key] = value
		}
	}

	job, err := ParseScanJob(&StreamMessage{ID: msg.ID, Fields: fields})
	if err != nil {
		// Acknowledge bad messages to avoid reprocessing
		_ = c.acknowledge(ctx, msg.ID)
		return err
	}

	c.logger.Info().
		Str("scan_id", job.ScanID).
		Str("message_id", msg.ID).
		Dur("queued_for", time.Since(job.EnqueuedAt)).
		Msg("Scan job received")

	err = c.retryHandler.RetryWithBackoff(ctx, func() error {
		return c.runner.Run(ctx, job.ScanID)
	}, msg.ID, msg.Values)
	if err != nil && ctx.Err() != nil {
		return err
	}
	// a dead-lettered job is acknowledged too; the DLQ keeps the copy
	if ackErr := c.acknowledge(ctx, msg.ID); ackErr != nil && err == nil {
		return ackErr
	}
	return err
}

// cleanupOldMessages trims entries older than the retention duration
func (c *Consumer) cleanupOldMessages(ctx context.Context) error {
	cutoffTime := time.Now().Add(-c.retentionDuration)
	minID := fmt.Sprintf("%d-0", cutoffTime.UnixMilli())

	trimmed, err := c.client.XTrimMinID(ctx, c.streamKey, minID).Result()
	if err != nil {
		return fmt.Errorf("failed to trim stream: %w", err)
	}
	if trimmed > 0 {
		c.logger.Debug().
			Int64("trimmed", trimmed).
			Dur("retention", c.retentionDuration).
			Str("cutoff_time", cutoffTime.Format(time.RFC3339)).
			Msg("Cleaned up old messages from stream")
	}
	return nil
}

func (c *Consumer) runCleanupPeriodically(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	if err := c.cleanupOldMessages(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Failed to run initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Cleanup goroutine shutting down")
			return
		case <-ticker.C:
			if err := c.cleanupOldMessages(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Failed to cleanup old messages")
			}
		}
	}
}

func (c *Consumer) acknowledge(ctx context.Context, messageID string) error {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.client.XAck(ackCtx, c.streamKey, c.consumerGroup, messageID).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", messageID).Msg("Failed to acknowledge message")
		return err
	}
	c.logger.Debug().Str("message_id", messageID).Msg("Message acknowledged")
	return nil
}
