package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeadLetterHook is told about every message moved to the dead-letter queue
type DeadLetterHook func(ctx context.Context, messageID string, fields map[string]interface{}, err error)

// RetryHandler retries message processing with exponential backoff and parks
// messages that keep failing on a dead-letter stream.
type RetryHandler struct {
	client        redis.UniversalClient
	deadLetterKey string
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	onDeadLetter  DeadLetterHook
}

type RetryOption func(*RetryHandler)

// WithBackoff sets the attempt count and the delay bounds
func WithBackoff(maxAttempts int, baseDelay, maxDelay time.Duration) RetryOption {
	return func(h *RetryHandler) {
		h.maxAttempts = maxAttempts
		h.baseDelay = baseDelay
		h.maxDelay = maxDelay
	}
}

// WithDeadLetterHook registers fn to run after a message is dead-lettered
func WithDeadLetterHook(fn DeadLetterHook) RetryOption {
	return func(h *RetryHandler) {
		h.onDeadLetter = fn
	}
}

func NewRetryHandler(client redis.UniversalClient, deadLetterKey string, opts ...RetryOption) *RetryHandler {
	h := &RetryHandler{
		client:        client,
		deadLetterKey: deadLetterKey,
		maxAttempts:   3,
		baseDelay:     time.Second,
		maxDelay:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxAttempts < 1 {
		h.maxAttempts = 1
	}
	return h
}

// backoff returns the delay before the attempt following attempt (1-based)
func (h *RetryHandler) backoff(attempt int) time.Duration {
	d := h.baseDelay << (attempt - 1)
	if d <= 0 || d > h.maxDelay {
		return h.maxDelay
	}
	return d
}

// RetryWithBackoff runs fn until it succeeds or attempts run out. On exhaustion the
// message is written to the dead-letter stream and the last error is returned.
func (h *RetryHandler) RetryWithBackoff(ctx context.Context, fn func() error, messageID string, fields map[string]interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == h.maxAttempts {
			break
		}

		delay := h.backoff(attempt)
		log.Warn().
			Err(lastErr).
			Str("message_id", messageID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Processing failed, retrying")

		select {
		case <-ctx.Done():
			// leave the message pending so another consumer can claim it
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if err := h.sendToDeadLetter(ctx, messageID, fields, lastErr); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to dead-letter message")
	}
	return lastErr
}

func (h *RetryHandler) sendToDeadLetter(ctx context.Context, messageID string, fields map[string]interface{}, cause error) error {
	values := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		values[k] = v
	}
	values["originalId"] = messageID
	values["error"] = cause.Error()
	values["attempts"] = h.maxAttempts
	values["failedAt"] = time.Now().UTC().Format(time.RFC3339)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.client.XAdd(writeCtx, &redis.XAddArgs{
		Stream: h.deadLetterKey,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add message to dead-letter stream: %w", err)
	}

	log.Error().
		Err(cause).
		Str("message_id", messageID).
		Str("dlq", h.deadLetterKey).
		Msg("Message moved to dead-letter queue")

	if h.onDeadLetter != nil {
		h.onDeadLetter(writeCtx, messageID, fields, cause)
	}
	return nil
}
