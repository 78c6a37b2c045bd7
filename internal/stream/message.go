package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
)

// Stream entry field names
const (
	fieldScanID     = "scanId"
	fieldEnqueuedAt = "enqueuedAt"
)

// StreamMessage is a stream entry with its values flattened to strings
type StreamMessage struct {
	ID     string
	Fields map[string]string
}

// EncodeScanJob returns the stream values for job
func EncodeScanJob(job models.ScanJob) map[string]interface{} {
	return map[string]interface{}{
		fieldScanID:     job.ScanID,
		fieldEnqueuedAt: job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ParseScanJob reads a scan job out of a stream message
func ParseScanJob(msg *StreamMessage) (*models.ScanJob, error) {
	if msg == nil {
		return nil, errors.New("nil stream message")
	}
	scanID := strings.TrimSpace(msg.Fields[fieldScanID])
	if scanID == "" {
		return nil, fmt.Errorf("message %s has no %s", msg.ID, fieldScanID)
	}

	job := &models.ScanJob{ScanID: scanID}
	if raw := msg.Fields[fieldEnqueuedAt]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("message %s has invalid %s: %w", msg.ID, fieldEnqueuedAt, err)
		}
		job.EnqueuedAt = t
	}
	return job, nil
}
