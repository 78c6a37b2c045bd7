// Package scan owns the scan lifecycle: upload validation, dispatch, execution and
// the read side served to pollers.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/blobstore"
	"github.com/RishiKendai/plagcode/internal/cache"
	"github.com/RishiKendai/plagcode/internal/logger"
	"github.com/RishiKendai/plagcode/internal/metrics"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/RishiKendai/plagcode/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// AlertRecorder appends alerts without failing the caller
type AlertRecorder interface {
	RecordAlert(ctx context.Context, service, code, message string, payload map[string]any, scanID string)
}

// Dispatcher hands a queued scan to a runner
type Dispatcher interface {
	Dispatch(ctx context.Context, scanID string) error
}

// Config bounds uploads and scan execution
type Config struct {
	MaxFiles           int
	MaxFileBytes       int64
	FileConcurrency    int
	ScanTimeout        time.Duration
	CancelPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFiles <= 0 {
		c.MaxFiles = 500
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 1 << 20
	}
	if c.FileConcurrency <= 0 {
		c.FileConcurrency = 8
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 10 * time.Minute
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 500 * time.Millisecond
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Tokens and Progress may be nil.
type Deps struct {
	Store    *repository.Store
	Blobs    blobstore.Store
	Alerts   AlertRecorder
	Engine   *plagiarism.Engine
	Pool     *plagiarism.WorkerPool
	Tokens   *cache.TokenCache
	Progress *cache.ProgressMirror
}

type Orchestrator struct {
	store      *repository.Store
	blobs      blobstore.Store
	alerts     AlertRecorder
	engine     *plagiarism.Engine
	pool       *plagiarism.WorkerPool
	tokens     *cache.TokenCache
	progress   *cache.ProgressMirror
	cfg        Config
	validate   *validator.Validate
	logger     zerolog.Logger
	cancels    *cancelRegistry
	now        func() time.Time
	dispatchMu sync.RWMutex
	dispatcher Dispatcher
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    deps.Store,
		blobs:    deps.Blobs,
		alerts:   deps.Alerts,
		engine:   deps.Engine,
		pool:     deps.Pool,
		tokens:   deps.Tokens,
		progress: deps.Progress,
		cfg:      cfg.withDefaults(),
		validate: validator.New(),
		logger:   logger.Named("orchestrator"),
		cancels:  newCancelRegistry(),
		now:      time.Now,
	}
}

// SetDispatcher installs the dispatcher used by Create. It is separate from the
// constructor because dispatchers call back into Run.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatchMu.Lock()
	o.dispatcher = d
	o.dispatchMu.Unlock()
}

func (o *Orchestrator) getDispatcher() Dispatcher {
	o.dispatchMu.RLock()
	defer o.dispatchMu.RUnlock()
	return o.dispatcher
}

// validateUploads enforces the upload rules before anything is stored
func (o *Orchestrator) validateUploads(uploads []models.Upload, opts models.ScanOptions) error {
	if err := o.validate.Struct(opts); err != nil {
		return apperr.Newf(apperr.CodeInvalidInput, "invalid options: %v", err)
	}
	if len(uploads) < 2 {
		return apperr.New(apperr.CodeInvalidInput, "at least 2 files are required")
	}
	if len(uploads) > o.cfg.MaxFiles {
		return apperr.Newf(apperr.CodeInvalidInput, "too many files: %d (max %d)", len(uploads), o.cfg.MaxFiles)
	}

	seen := make(map[string]struct{}, len(uploads))
	for _, u := range uploads {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return apperr.New(apperr.CodeInvalidInput, "file name is required")
		}
		if plagiarism.IsBinaryName(name) {
			return apperr.Newf(apperr.CodeInvalidInput, "unsupported file type: %s", name)
		}
		if _, dup := seen[name]; dup {
			return apperr.Newf(apperr.CodeInvalidInput, "duplicate file name: %s", name)
		}
		seen[name] = struct{}{}
		if int64(len(u.Content)) > o.cfg.MaxFileBytes {
			return apperr.Newf(apperr.CodeInvalidInput, "file %s exceeds %d bytes", name, o.cfg.MaxFileBytes)
		}
	}
	return nil
}

// Create validates and stores an upload, records the scan as queued and dispatches it
func (o *Orchestrator) Create(ctx context.Context, uploads []models.Upload, opts models.ScanOptions) (string, error) {
	if err := o.validateUploads(uploads, opts); err != nil {
		return "", err
	}

	scanID := uuid.New().String()
	createdAt := o.now().UTC()
	files := make([]models.SourceFile, len(uploads))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(o.cfg.FileConcurrency)
	for i, u := range uploads {
		name := strings.TrimSpace(u.Name)
		key := blobstore.Key(scanID, name)
		files[i] = models.SourceFile{
			ScanID:    scanID,
			Name:      name,
			Language:  plagiarism.ResolveLanguage(name, opts.Language, opts.AutoDetectLanguage),
			Size:      int64(len(u.Content)),
			Checksum:  blobstore.Checksum(u.Content),
			BlobKey:   key,
			CreatedAt: createdAt,
		}
		content := u.Content
		p.Go(func(ctx context.Context) error {
			return o.blobs.Put(ctx, key, content)
		})
	}
	if err := p.Wait(); err != nil {
		return "", o.storageFailure(ctx, scanID, "failed to store uploaded files", err)
	}

	n := len(files)
	scan := &models.Scan{
		ID:        scanID,
		Status:    models.StatusQueued,
		Options:   opts,
		FileCount: n,
		PairCount: n * (n - 1) / 2,
		Logs:      []models.LogEntry{models.NewLogEntry(fmt.Sprintf("Scan queued with %d files", n))},
		CreatedAt: createdAt,
	}
	if err := o.store.Files.InsertMany(ctx, files); err != nil {
		return "", o.storageFailure(ctx, scanID, "failed to record uploaded files", err)
	}
	if err := o.store.Scans.Create(ctx, scan); err != nil {
		return "", o.storageFailure(ctx, scanID, "failed to create scan", err)
	}
	o.publishProgress(ctx, scanID, 0)

	o.logger.Info().
		Str("scan_id", scanID).
		Int("files", n).
		Int("pairs", scan.PairCount).
		Msg("Scan created")

	dispatchErr := errNoDispatcher
	if d := o.getDispatcher(); d != nil {
		dispatchErr = d.Dispatch(ctx, scanID)
	}
	if dispatchErr != nil {
		o.Abandon(ctx, scanID, dispatchErr)
		return "", apperr.Wrap(dispatchErr, apperr.CodeStorageFailure, "failed to dispatch scan")
	}
	return scanID, nil
}

// storageFailure alerts on a failed upload write, drops stored blobs and returns a coded error
func (o *Orchestrator) storageFailure(ctx context.Context, scanID, msg string, err error) error {
	o.logger.Error().Err(err).Str("scan_id", scanID).Msg(msg)
	o.alerts.RecordAlert(ctx, models.ServiceGateway, models.AlertStorageFailure, msg+": "+err.Error(), nil, scanID)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if derr := o.blobs.DeletePrefix(cleanupCtx, blobstore.ScanPrefix(scanID)); derr != nil {
		o.logger.Warn().Err(derr).Str("scan_id", scanID).Msg("Failed to clean up blobs")
	}
	return apperr.Wrap(err, apperr.CodeStorageFailure, msg)
}

func (o *Orchestrator) getScan(ctx context.Context, scanID string) (*models.Scan, error) {
	scan, err := o.store.Scans.Get(ctx, scanID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "scan not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load scan")
	}
	return scan, nil
}

// Status reports the lifecycle state, progress and processing log of a scan
func (o *Orchestrator) Status(ctx context.Context, scanID string) (*models.StatusResponse, error) {
	scan, err := o.getScan(ctx, scanID)
	if err != nil {
		return nil, err
	}

	progress := scan.Progress
	if mirrored, ok, err := o.progress.Get(ctx, scanID); err != nil {
		o.logger.Debug().Err(err).Str("scan_id", scanID).Msg("Progress mirror unavailable")
	} else if ok {
		progress = max(progress, mirrored)
	}
	if scan.Status == models.StatusComplete {
		progress = 100
	} else {
		progress = min(progress, 99)
	}

	logs := scan.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	return &models.StatusResponse{
		Status:   scan.Status,
		Progress: progress,
		Complete: scan.Status == models.StatusComplete,
		Logs:     logs,
	}, nil
}

// Results returns the pair rows of a complete scan
func (o *Orchestrator) Results(ctx context.Context, scanID string) (*models.ResultsResponse, error) {
	scan, err := o.getScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	switch scan.Status {
	case models.StatusQueued, models.StatusRunning:
		return nil, apperr.New(apperr.CodeNotReady, "scan is not complete")
	case models.StatusFailed, models.StatusCancelled:
		return nil, apperr.Newf(apperr.CodeNotFound, "scan %s has no results", scan.Status)
	}

	rows, err := o.store.Results.ListByScan(ctx, scanID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load results")
	}
	return &models.ResultsResponse{
		Meta: models.ResultsMeta{
			NFiles:         scan.FileCount,
			NPairs:         scan.PairCount,
			RuntimeMS:      scan.RuntimeMS,
			Excluded:       scan.Excluded,
			MeanSimilarity: scan.MeanSimilarity,
		},
		Pairs: rows,
	}, nil
}

// Cancel moves a non-terminal scan to cancelled and stops its runner
func (o *Orchestrator) Cancel(ctx context.Context, scanID string) (*models.CancelResponse, error) {
	scan, err := o.getScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if scan.Status.Terminal() {
		return nil, apperr.Newf(apperr.CodeAlreadyTerminal, "scan is already %s", scan.Status)
	}

	ok, err := o.store.Scans.Cancel(ctx, scanID, o.now().UTC())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to cancel scan")
	}
	if !ok {
		// finished between the read and the conditional update
		scan, err = o.getScan(ctx, scanID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Newf(apperr.CodeAlreadyTerminal, "scan is already %s", scan.Status)
	}

	o.cancels.cancel(scanID)
	if err := o.store.Results.DeleteByScan(ctx, scanID); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to drop partial results")
	}
	o.appendLog(ctx, scanID, "Scan cancelled")
	metrics.ScanCount.WithLabelValues(string(models.StatusCancelled)).Inc()
	o.logger.Info().Str("scan_id", scanID).Msg("Scan cancelled")

	return &models.CancelResponse{ScanID: scanID, Status: models.StatusCancelled}, nil
}

// Abandon fails a scan whose job could not be handed to a runner
func (o *Orchestrator) Abandon(ctx context.Context, scanID string, cause error) {
	o.logger.Error().Err(cause).Str("scan_id", scanID).Msg("Scan could not be dispatched")
	o.alerts.RecordAlert(ctx, models.ServiceDispatcher, models.AlertDispatchFailed,
		"failed to dispatch scan: "+cause.Error(), nil, scanID)
	o.finalizeFailure(ctx, scanID, models.AlertDispatchFailed, "scan could not be dispatched", nil, 0)
}

// FileContent returns the text of one uploaded file
func (o *Orchestrator) FileContent(ctx context.Context, scanID, name string) (string, error) {
	if _, err := o.getScan(ctx, scanID); err != nil {
		return "", err
	}
	file, err := o.store.Files.Get(ctx, scanID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return "", apperr.New(apperr.CodeNotFound, "file not found")
	}
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load file")
	}

	data, err := o.blobs.Get(ctx, file.BlobKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return "", apperr.New(apperr.CodeNotFound, "file content not found")
	}
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load file content")
	}
	return plagiarism.DecodeDisplay(data), nil
}

func (o *Orchestrator) appendLog(ctx context.Context, scanID, message string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.Scans.AppendLog(writeCtx, scanID, models.NewLogEntry(message)); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to append scan log")
	}
}

func (o *Orchestrator) publishProgress(ctx context.Context, scanID string, progress int) {
	if err := o.store.Scans.UpdateProgress(ctx, scanID, progress); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", scanID).Int("progress", progress).Msg("Failed to store progress")
	}
	// the mirror logs its own failures
	_ = o.progress.Publish(ctx, scanID, progress)
}
