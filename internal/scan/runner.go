package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/blobstore"
	"github.com/RishiKendai/plagcode/internal/cache"
	"github.com/RishiKendai/plagcode/internal/metrics"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/sourcegraph/conc/pool"
)

const blobFetchAttempts = 3

var (
	// errScanCancelled is the cancellation cause set when a user cancels a scan
	errScanCancelled = errors.New("scan cancelled")
	// errLostRace means another writer finished the scan first
	errLostRace = errors.New("scan state changed during run")
	// errNoDispatcher fails Create when SetDispatcher was never called
	errNoDispatcher = errors.New("no scan dispatcher configured")
)

// insufficientFilesError ends a scan whose usable files cannot form a pair
type insufficientFilesError struct {
	usable   int
	excluded []string
}

func (e *insufficientFilesError) Error() string {
	return fmt.Sprintf("only %d usable files after excluding %d", e.usable, len(e.excluded))
}

// fileResult is the per-file phase output; doc is nil for an excluded file
type fileResult struct {
	doc      *plagiarism.Document
	excluded bool
}

// Run executes one queued scan to a terminal state. A scan that is not queued is
// skipped, so redelivered jobs are harmless. Scan failures are recorded on the scan
// and alerted; the returned error only reports that the run could not start or finish
// its bookkeeping.
func (o *Orchestrator) Run(ctx context.Context, scanID string) error {
	started := o.now()
	ok, err := o.store.Scans.MarkRunning(ctx, scanID, started.UTC())
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStorageFailure, "failed to start scan")
	}
	if !ok {
		o.logger.Debug().Str("scan_id", scanID).Msg("Scan is not queued, skipping")
		return nil
	}

	log := o.logger.With().Str("scan_id", scanID).Logger()
	log.Info().Msg("Scan started")
	o.appendLog(ctx, scanID, "Scan started")

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancelTimeout()
	runCtx, cancelRun := context.WithCancelCause(timeoutCtx)
	defer cancelRun(nil)

	unregister := o.cancels.register(scanID, cancelRun)
	defer unregister()
	go o.watchCancellation(runCtx, scanID, cancelRun)

	summary, err := o.execute(runCtx, scanID)
	runtime := o.now().Sub(started)
	metrics.ScanDuration.Observe(runtime.Seconds())

	if err == nil {
		log.Info().
			Int("files", summary.FileCount).
			Int("pairs", summary.PairCount).
			Dur("runtime", runtime).
			Msg("Scan complete")
		metrics.ScanCount.WithLabelValues(string(models.StatusComplete)).Inc()
		return nil
	}

	cause := context.Cause(runCtx)
	var insufficient *insufficientFilesError
	switch {
	case errors.Is(cause, errScanCancelled) || errors.Is(err, errLostRace):
		// status was already written by whoever cancelled or finished the scan
		log.Info().Msg("Scan cancelled, dropping partial results")
		o.dropResults(ctx, scanID)

	case errors.Is(cause, context.DeadlineExceeded):
		msg := fmt.Sprintf("scan exceeded its time budget of %s", o.cfg.ScanTimeout)
		log.Warn().Msg(msg)
		o.alerts.RecordAlert(ctx, models.ServiceOrchestrator, models.AlertScanTimeout, msg,
			map[string]any{"timeout_ms": o.cfg.ScanTimeout.Milliseconds()}, scanID)
		o.finalizeFailure(ctx, scanID, models.AlertScanTimeout, msg, nil, runtime)

	case errors.As(err, &insufficient):
		msg := "fewer than 2 readable files"
		log.Warn().Strs("excluded", insufficient.excluded).Msg(msg)
		o.alerts.RecordAlert(ctx, models.ServiceOrchestrator, models.AlertInsufficientFiles, msg,
			map[string]any{"usable": insufficient.usable, "excluded": insufficient.excluded}, scanID)
		o.finalizeFailure(ctx, scanID, models.AlertInsufficientFiles, msg, insufficient.excluded, runtime)

	case apperr.Is(err, apperr.CodeStorageFailure):
		log.Error().Err(err).Msg("Scan failed on storage")
		o.alerts.RecordAlert(ctx, models.ServiceOrchestrator, models.AlertStorageFailure, err.Error(), nil, scanID)
		o.finalizeFailure(ctx, scanID, models.AlertStorageFailure, apperr.Message(err), nil, runtime)

	default:
		log.Error().Err(err).Msg("Scan failed")
		o.alerts.RecordAlert(ctx, models.ServiceOrchestrator, models.AlertScanFailed, err.Error(), nil, scanID)
		o.finalizeFailure(ctx, scanID, models.AlertScanFailed, err.Error(), nil, runtime)
	}
	return nil
}

// finalizeFailure marks the scan failed, drops partial rows and counts the outcome
func (o *Orchestrator) finalizeFailure(ctx context.Context, scanID, code, message string, excluded []string, runtime time.Duration) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ok, err := o.store.Scans.Fail(writeCtx, scanID, models.Failure{
		ErrorCode:  code,
		Error:      message,
		Excluded:   excluded,
		RuntimeMS:  runtime.Milliseconds(),
		FinishedAt: o.now().UTC(),
	})
	if err != nil {
		o.logger.Error().Err(err).Str("scan_id", scanID).Msg("Failed to mark scan failed")
	}
	o.dropResults(writeCtx, scanID)
	if ok {
		o.appendLog(writeCtx, scanID, "Scan failed: "+message)
		metrics.ScanCount.WithLabelValues(string(models.StatusFailed)).Inc()
	}
}

func (o *Orchestrator) dropResults(ctx context.Context, scanID string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.Results.DeleteByScan(writeCtx, scanID); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to drop partial results")
	}
}

// execute runs the file phase, the pair phase and persistence
func (o *Orchestrator) execute(ctx context.Context, scanID string) (models.Completion, error) {
	scan, err := o.store.Scans.Get(ctx, scanID)
	if err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load scan")
	}
	files, err := o.store.Files.ListByScan(ctx, scanID)
	if err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load scan files")
	}

	n := len(files)
	tracker := newProgressTracker(n+n*(n-1)/2, func(p int) { o.publishProgress(ctx, scanID, p) })
	normOpts := plagiarism.Options{
		IgnoreComments:       scan.Options.IgnoreComments,
		NormalizeIdentifiers: scan.Options.NormalizeIdentifiers,
	}

	// File phase; Wait is the join barrier before pairs are scheduled
	results := make([]fileResult, n)
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(o.cfg.FileConcurrency)
	for i, f := range files {
		p.Go(func(ctx context.Context) error {
			res, err := o.processFile(ctx, scanID, f, normOpts)
			if err != nil {
				return err
			}
			results[i] = res
			tracker.advance(1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		if ctx.Err() != nil {
			return models.Completion{}, ctx.Err()
		}
		return models.Completion{}, err
	}

	docs := make([]*plagiarism.Document, 0, n)
	excluded := []string{}
	for i, res := range results {
		if res.excluded {
			excluded = append(excluded, files[i].Name)
			continue
		}
		docs = append(docs, res.doc)
	}
	sort.Strings(excluded)
	if len(docs) < 2 {
		return models.Completion{}, &insufficientFilesError{usable: len(docs), excluded: excluded}
	}

	usable := len(docs)
	pairs := usable * (usable - 1) / 2
	tracker.resize(n + pairs)
	if err := o.store.Scans.SetCounts(ctx, scanID, usable, pairs, excluded); err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to update scan counts")
	}
	o.appendLog(ctx, scanID, fmt.Sprintf("Fingerprinted %d files, comparing %d pairs", usable, pairs))

	rows, err := plagiarism.ComparePairs(ctx, o.pool, o.engine, docs, func() { tracker.advance(1) })
	if err != nil {
		if ctx.Err() != nil {
			return models.Completion{}, ctx.Err()
		}
		return models.Completion{}, err
	}
	metrics.PairsCompared.Add(float64(len(rows)))

	if err := o.store.Results.ReplaceAll(ctx, scanID, rows); err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to persist results")
	}
	count, err := o.store.Results.Count(ctx, scanID)
	if err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to verify results")
	}
	if count != int64(pairs) {
		return models.Completion{}, apperr.Newf(apperr.CodeStorageFailure, "stored %d result rows, expected %d", count, pairs)
	}

	summary := plagiarism.Summarize(rows)
	completion := models.Completion{
		FileCount:      usable,
		PairCount:      pairs,
		Excluded:       excluded,
		HighRiskCount:  summary.HighRiskCount,
		TopSimilarity:  summary.TopSimilarity,
		MeanSimilarity: summary.MeanSimilarity,
		RuntimeMS:      o.now().Sub(derefTime(scan.StartedAt, o.now())).Milliseconds(),
		FinishedAt:     o.now().UTC(),
	}
	ok, err := o.store.Scans.Complete(ctx, scanID, completion)
	if err != nil {
		return models.Completion{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to complete scan")
	}
	if !ok {
		return models.Completion{}, errLostRace
	}
	_ = o.progress.Publish(ctx, scanID, 100)
	o.appendLog(ctx, scanID, fmt.Sprintf("Scan complete: %d pairs, %d high risk", pairs, summary.HighRiskCount))
	return completion, nil
}

// processFile loads, decodes, normalizes and fingerprints one file. An unreadable
// file is excluded and alerted rather than failing the scan.
func (o *Orchestrator) processFile(ctx context.Context, scanID string, f models.SourceFile, opts plagiarism.Options) (fileResult, error) {
	raw, err := o.fetchBlob(ctx, f.BlobKey)
	if err != nil {
		return fileResult{}, apperr.Wrap(err, apperr.CodeStorageFailure, "failed to load "+f.Name)
	}

	text, err := plagiarism.DecodeSource(raw)
	if errors.Is(err, plagiarism.ErrUnreadable) {
		metrics.FilesExcluded.Inc()
		o.logger.Warn().Str("scan_id", scanID).Str("file", f.Name).Msg("Excluding unreadable file")
		o.alerts.RecordAlert(ctx, models.ServiceNormalizer, models.AlertFileUnreadable,
			"excluded unreadable file "+f.Name, map[string]any{"file": f.Name, "size": f.Size}, scanID)
		o.appendLog(ctx, scanID, "Excluded "+f.Name+": unreadable")
		return fileResult{excluded: true}, nil
	}
	if err != nil {
		return fileResult{}, err
	}

	key := cache.TokenKey(f.Checksum, f.Language, opts)
	tokens, hit, err := o.tokens.Get(ctx, key)
	if err != nil {
		o.logger.Debug().Err(err).Str("file", f.Name).Msg("Token cache read failed")
	}
	if !hit {
		tokens = plagiarism.Normalize(text, f.Language, opts).Tokens
		if err := o.tokens.Set(ctx, key, tokens); err != nil {
			o.logger.Debug().Err(err).Str("file", f.Name).Msg("Token cache write failed")
		}
	}
	return fileResult{doc: o.engine.Prepare(f.Name, tokens)}, nil
}

// fetchBlob reads a blob with a short linear backoff between attempts
func (o *Orchestrator) fetchBlob(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= blobFetchAttempts; attempt++ {
		data, err := o.blobs.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if errors.Is(err, blobstore.ErrNotFound) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}
