package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Producer dispatches scans by appending jobs to the scan stream
type Producer struct {
	client    redis.UniversalClient
	streamKey string
}

func NewProducer(client redis.UniversalClient, streamKey string) *Producer {
	return &Producer{
		client:    client,
		streamKey: streamKey,
	}
}

// Dispatch appends a job for scanID; the scan stays queued until a consumer picks it up
func (p *Producer) Dispatch(ctx context.Context, scanID string) error {
	job := models.ScanJob{ScanID: scanID, EnqueuedAt: time.Now()}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamKey,
		Values: EncodeScanJob(job),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add scan job to stream: %w", err)
	}

	log.Debug().
		Str("scan_id", scanID).
		Str("message_id", id).
		Str("stream", p.streamKey).
		Msg("Scan job enqueued")
	return nil
}
