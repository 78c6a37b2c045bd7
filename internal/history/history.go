// Package history records alerts and serves the scan and alert listings.
package history

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RishiKendai/plagcode/internal/metrics"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultScansLimit  = 50
	DefaultAlertsLimit = 200
	MaxLimit           = 200
)

// ClampLimit maps a requested page size onto [1, MaxLimit]; 0 or less means def
func ClampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

type Service struct {
	scans  repository.ScanRepository
	alerts repository.AlertRepository
	now    func() time.Time
}

func NewService(scans repository.ScanRepository, alerts repository.AlertRepository) *Service {
	return &Service{scans: scans, alerts: alerts, now: time.Now}
}

// RecordAlert appends an alert. Persistence failures are logged and counted, never returned.
func (s *Service) RecordAlert(ctx context.Context, service, code, message string, payload map[string]any, scanID string) {
	alert := &models.Alert{
		ID:        uuid.New().String(),
		ScanID:    scanID,
		Service:   service,
		ErrorCode: code,
		Message:   message,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}

	// the caller's context may already be cancelled or past its deadline
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.alerts.Insert(writeCtx, alert); err != nil {
		metrics.AlertsDropped.Inc()
		log.Warn().Err(err).
			Str("service", service).
			Str("error_code", code).
			Str("scan_id", scanID).
			Msg("Failed to record alert")
		return
	}
	metrics.AlertsRecorded.WithLabelValues(service, code).Inc()
	log.Debug().
		Str("service", service).
		Str("error_code", code).
		Str("scan_id", scanID).
		Msg("Alert recorded")
}

// ListScans returns scan summaries, most recent first
func (s *Service) ListScans(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	scans, err := s.scans.List(ctx, ClampLimit(limit, DefaultScansLimit))
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ScanSummary, 0, len(scans))
	for _, scan := range scans {
		summary := models.ScanSummary{
			ScanID:    scan.ID,
			CreatedAt: scan.CreatedAt,
			Status:    scan.Status,
			Progress:  scan.Progress,
			FileCount: scan.FileCount,
			PairCount: scan.PairCount,
			RuntimeMS: scan.RuntimeMS,
		}
		if scan.Status == models.StatusComplete {
			summary.HighRiskCount = scan.HighRiskCount
			summary.TopSimilarity = scan.TopSimilarity
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListAlerts returns alerts most recent first, filtered by a case-insensitive substring
func (s *Service) ListAlerts(ctx context.Context, limit int, query string) ([]models.AlertView, error) {
	alerts, err := s.alerts.List(ctx, ClampLimit(limit, DefaultAlertsLimit), strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}

	views := make([]models.AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, ToView(a))
	}
	return views, nil
}

// ToView converts an alert to its wire shape
func ToView(a models.Alert) models.AlertView {
	view := models.AlertView{
		ID:          a.ID,
		Service:     a.Service,
		ErrorCode:   a.ErrorCode,
		Message:     a.Message,
		PayloadJSON: "{}",
		CreatedAt:   a.CreatedAt,
	}
	if a.ScanID != "" {
		scanID := a.ScanID
		view.ScanID = &scanID
	}
	if len(a.Payload) > 0 {
		if data, err := json.Marshal(a.Payload); err == nil {
			view.PayloadJSON = string(data)
		}
	}
	return view
}
