package repository

import (
	"context"
	"errors"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
)

// ErrNotFound is returned when a lookup matches no document
var ErrNotFound = errors.New("not found")

// ScanRepository persists scan records. Transition methods are conditional and report
// whether the scan was in a state that allowed the change.
type ScanRepository interface {
	Create(ctx context.Context, scan *models.Scan) error
	Get(ctx context.Context, id string) (*models.Scan, error)
	List(ctx context.Context, limit int) ([]models.Scan, error)

	// MarkRunning moves a queued scan to running
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// UpdateProgress raises progress on a non-terminal scan; lower values are ignored
	UpdateProgress(ctx context.Context, id string, progress int) error
	AppendLog(ctx context.Context, id string, entry models.LogEntry) error
	SetCounts(ctx context.Context, id string, fileCount, pairCount int, excluded []string) error

	Complete(ctx context.Context, id string, c models.Completion) (bool, error)
	Fail(ctx context.Context, id string, f models.Failure) (bool, error)
	Cancel(ctx context.Context, id string, finishedAt time.Time) (bool, error)
}

// FileRepository persists the file records of a scan
type FileRepository interface {
	InsertMany(ctx context.Context, files []models.SourceFile) error
	ListByScan(ctx context.Context, scanID string) ([]models.SourceFile, error)
	Get(ctx context.Context, scanID, name string) (*models.SourceFile, error)
}

// ResultRepository persists pair rows
type ResultRepository interface {
	// ReplaceAll drops any rows for the scan, then writes rows
	ReplaceAll(ctx context.Context, scanID string, rows []models.PairResult) error
	DeleteByScan(ctx context.Context, scanID string) error
	// ListByScan returns rows by similarity descending, then (file_a, file_b)
	ListByScan(ctx context.Context, scanID string) ([]models.PairResult, error)
	Count(ctx context.Context, scanID string) (int64, error)
}

// AlertRepository is an append-only alert log
type AlertRepository interface {
	Insert(ctx context.Context, alert *models.Alert) error
	// List returns the most recent alerts first. A non-empty query keeps alerts whose
	// scan id, service, error code or message contains it, ignoring case.
	List(ctx context.Context, limit int, query string) ([]models.Alert, error)
}

// Store groups the repositories backing one deployment
type Store struct {
	Scans   ScanRepository
	Files   FileRepository
	Results ResultRepository
	Alerts  AlertRepository
}
