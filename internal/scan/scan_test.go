package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/blobstore"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/RishiKendai/plagcode/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	srcAdd = `func add(a, b int) int {
	total := a + b
	return total
}
`
	srcRenamed = `func plus(x, y int) int {
	sum := x + y
	return sum
}
`
	srcOther = `for i := 0; i < 10; i++ {
	fmt.Println(i * i)
}
`
)

type alertLog struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (l *alertLog) RecordAlert(_ context.Context, service, code, message string, payload map[string]any, scanID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, models.Alert{ScanID: scanID, Service: service, ErrorCode: code, Message: message, Payload: payload})
}

func (l *alertLog) codes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	codes := make([]string, len(l.alerts))
	for i, a := range l.alerts {
		codes[i] = a.ErrorCode
	}
	return codes
}

// manualDispatcher records dispatched scans so tests drive Run themselves
type manualDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *manualDispatcher) Dispatch(_ context.Context, scanID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, scanID)
	return nil
}

type flakyBlobs struct {
	*blobstore.MemoryStore
	putErr error
	getErr error
	// blockGet holds every Get until its context ends
	blockGet bool
	gets     atomic.Int32
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.gets.Add(1)
	if f.blockGet {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, key)
}

type harness struct {
	orch       *Orchestrator
	store      *repository.Store
	blobs      *flakyBlobs
	alerts     *alertLog
	dispatcher *manualDispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	pool := plagiarism.NewWorkerPool(context.Background(), 2)
	t.Cleanup(pool.Close)

	h := &harness{
		store:      repository.NewMemoryStore(),
		blobs:      &flakyBlobs{MemoryStore: blobstore.NewMemoryStore()},
		alerts:     &alertLog{},
		dispatcher: &manualDispatcher{},
	}
	if cfg.CancelPollInterval == 0 {
		cfg.CancelPollInterval = 10 * time.Millisecond
	}
	h.orch = NewOrchestrator(Deps{
		Store:  h.store,
		Blobs:  h.blobs,
		Alerts: h.alerts,
		Engine: plagiarism.NewEngine(),
		Pool:   pool,
	}, cfg)
	h.orch.SetDispatcher(h.dispatcher)
	return h
}

func uploads(pairs ...string) []models.Upload {
	out := make([]models.Upload, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.Upload{Name: pairs[i], Content: []byte(pairs[i+1])})
	}
	return out
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, Config{MaxFiles: 3, MaxFileBytes: 64})
	ctx := context.Background()
	opts := models.DefaultScanOptions()

	tests := []struct {
		name    string
		uploads []models.Upload
		opts    models.ScanOptions
	}{
		{"single file", uploads("a.go", srcOther[:10]), opts},
		{"binary extension", uploads("a.go", "x", "logo.png", "y"), opts},
		{"empty name", uploads("a.go", "x", "  ", "y"), opts},
		{"duplicate name", uploads("a.go", "x", "a.go", "y"), opts},
		{"too large", uploads("a.go", "x", "b.go", strings.Repeat("y", 65)), opts},
		{"too many files", uploads("a.go", "1", "b.go", "2", "c.go", "3", "d.go", "4"), opts},
		{"bad language option", uploads("a.go", "x", "b.go", "y"), models.ScanOptions{Language: "c++"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Create(ctx, tt.uploads, tt.opts)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
		})
	}

	scans, err := h.store.Scans.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, scans)
	assert.Empty(t, h.dispatcher.ids)
}

func TestScanLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	opts := models.ScanOptions{AutoDetectLanguage: true, IgnoreComments: true, NormalizeIdentifiers: true}

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcRenamed, "c.go", srcOther), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, h.dispatcher.ids)

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, status.Status)
	assert.False(t, status.Complete)
	assert.NotEmpty(t, status.Logs)

	_, err = h.orch.Results(ctx, id)
	assert.Equal(t, apperr.CodeNotReady, apperr.CodeOf(err))

	require.NoError(t, h.orch.Run(ctx, id))

	status, err = h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, status.Status)
	assert.True(t, status.Complete)
	assert.Equal(t, 100, status.Progress)

	res, err := h.orch.Results(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Meta.NFiles)
	assert.Equal(t, 3, res.Meta.NPairs)
	require.Len(t, res.Pairs, 3)

	top := res.Pairs[0]
	assert.Equal(t, "a.go", top.FileA)
	assert.Equal(t, "b.go", top.FileB)
	assert.Equal(t, 100.0, top.Similarity)
	assert.Equal(t, models.LabelHigh, top.Label)
	for i, row := range res.Pairs {
		assert.Less(t, row.FileA, row.FileB)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Pairs[i-1].Similarity, row.Similarity)
		}
	}

	scan, err := h.store.Scans.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, scan.HighRiskCount)
	assert.Equal(t, 100.0, scan.TopSimilarity)
	assert.NotNil(t, scan.FinishedAt)

	// a redelivered job is a no-op
	require.NoError(t, h.orch.Run(ctx, id))
	again, err := h.orch.Results(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Pairs, again.Pairs)

	content, err := h.orch.FileContent(ctx, id, "b.go")
	require.NoError(t, err)
	assert.Equal(t, srcRenamed, content)

	_, err = h.orch.FileContent(ctx, id, "missing.go")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = h.orch.FileContent(ctx, "nope", "a.go")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	assert.Empty(t, h.alerts.codes())
}

func TestUnknownScan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.orch.Status(ctx, "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = h.orch.Results(ctx, "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = h.orch.Cancel(ctx, "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestUnreadableFileExcluded(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcAdd, "blob.txt", "abc\x00def"), models.DefaultScanOptions())
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	res, err := h.orch.Results(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Meta.NFiles)
	assert.Equal(t, 1, res.Meta.NPairs)
	assert.Equal(t, []string{"blob.txt"}, res.Meta.Excluded)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, 100.0, res.Pairs[0].Similarity)

	assert.Equal(t, []string{models.AlertFileUnreadable}, h.alerts.codes())
	assert.Equal(t, id, h.alerts.alerts[0].ScanID)
}

func TestInsufficientFilesFails(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "blob.txt", "\x00"), models.DefaultScanOptions())
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	scan, err := h.store.Scans.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, scan.Status)
	assert.Equal(t, models.AlertInsufficientFiles, scan.ErrorCode)
	assert.Equal(t, []string{"blob.txt"}, scan.Excluded)

	_, err = h.orch.Results(ctx, id)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	assert.Contains(t, h.alerts.codes(), models.AlertInsufficientFiles)
}

func TestCancelQueuedScan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.NoError(t, err)

	resp, err := h.orch.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, resp.Status)

	_, err = h.orch.Cancel(ctx, id)
	assert.Equal(t, apperr.CodeAlreadyTerminal, apperr.CodeOf(err))

	// the runner skips a scan that is no longer queued
	require.NoError(t, h.orch.Run(ctx, id))

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)
	assert.False(t, status.Complete)

	_, err = h.orch.Results(ctx, id)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	count, err := h.store.Results.Count(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCancelRunningScan(t *testing.T) {
	h := newHarness(t, Config{})
	h.blobs.blockGet = true
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcRenamed), models.DefaultScanOptions())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, id) }()
	require.Eventually(t, func() bool { return h.blobs.gets.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	status, err := h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, status.Status)
	_, err = h.orch.Results(ctx, id)
	assert.Equal(t, apperr.CodeNotReady, apperr.CodeOf(err))

	resp, err := h.orch.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, resp.Status)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	status, err = h.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)
	assert.False(t, status.Complete)

	_, err = h.orch.Results(ctx, id)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	count, err := h.store.Results.Count(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, h.alerts.codes())
}

func TestScanTimeout(t *testing.T) {
	h := newHarness(t, Config{ScanTimeout: time.Nanosecond})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(ctx, id))

	scan, err := h.store.Scans.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, scan.Status)
	assert.Equal(t, models.AlertScanTimeout, scan.ErrorCode)
	assert.Equal(t, []string{models.AlertScanTimeout}, h.alerts.codes())

	count, err := h.store.Results.Count(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStorageFailureDuringRun(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.NoError(t, err)

	h.blobs.getErr = errors.New("connection reset")
	require.NoError(t, h.orch.Run(ctx, id))

	scan, err := h.store.Scans.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, scan.Status)
	assert.Equal(t, models.AlertStorageFailure, scan.ErrorCode)
	assert.Contains(t, h.alerts.codes(), models.AlertStorageFailure)
	assert.GreaterOrEqual(t, h.blobs.gets.Load(), int32(blobFetchAttempts))
}

func TestStorageFailureDuringCreate(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.blobs.putErr = errors.New("bucket missing")

	_, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeStorageFailure, apperr.CodeOf(err))
	assert.Equal(t, []string{models.AlertStorageFailure}, h.alerts.codes())
	assert.Empty(t, h.dispatcher.ids)
}

func TestDispatchFailureMarksScanFailed(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.dispatcher.err = errors.New("stream unavailable")

	_, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.Error(t, err)
	assert.Contains(t, h.alerts.codes(), models.AlertDispatchFailed)

	scans, err := h.store.Scans.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, models.StatusFailed, scans[0].Status)
}

func TestCreateWithoutDispatcherFailsScan(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.SetDispatcher(nil)
	ctx := context.Background()

	_, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoDispatcher)
	assert.Equal(t, []string{models.AlertDispatchFailed}, h.alerts.codes())

	scans, err := h.store.Scans.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, models.StatusFailed, scans[0].Status)
	assert.Equal(t, models.AlertDispatchFailed, scans[0].ErrorCode)
}

func TestAbandonFailsQueuedScan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.NoError(t, err)

	h.orch.Abandon(ctx, id, errors.New("retries exhausted"))

	scan, err := h.store.Scans.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, scan.Status)
	assert.Equal(t, models.AlertDispatchFailed, scan.ErrorCode)
	assert.Equal(t, []string{models.AlertDispatchFailed}, h.alerts.codes())
}

func TestWatchCancellationSeesStoreFlip(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.orch.Create(ctx, uploads("a.go", srcAdd, "b.go", srcOther), models.DefaultScanOptions())
	require.NoError(t, err)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go h.orch.watchCancellation(runCtx, id, cancel)

	// another replica cancels through the store
	_, err = h.store.Scans.Cancel(ctx, id, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runCtx.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, context.Cause(runCtx), errScanCancelled)
}

func TestCancelRegistry(t *testing.T) {
	r := newCancelRegistry()
	ctx, cancel := context.WithCancelCause(context.Background())
	unregister := r.register("s1", cancel)

	assert.False(t, r.cancel("other"))
	assert.True(t, r.cancel("s1"))
	assert.ErrorIs(t, context.Cause(ctx), errScanCancelled)

	unregister()
	assert.False(t, r.cancel("s1"))
}

func TestProgressTracker(t *testing.T) {
	var published []int
	tr := newProgressTracker(4, func(p int) { published = append(published, p) })

	tr.advance(1) // 25
	tr.advance(1) // 50
	tr.resize(8)
	tr.advance(1) // 3/8 falls below what was published
	tr.advance(5) // 8/8 is held at 99
	tr.advance(1)

	assert.Equal(t, []int{25, 50, 99}, published)
}

type countingRunner struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	runs    atomic.Int32
}

func (r *countingRunner) Run(context.Context, string) error {
	n := r.active.Add(1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	r.active.Add(-1)
	r.runs.Add(1)
	return nil
}

func TestInlineDispatcherBoundsConcurrency(t *testing.T) {
	runner := &countingRunner{}
	d := NewInlineDispatcher(context.Background(), runner, 2)
	for i := 0; i < 6; i++ {
		require.NoError(t, d.Dispatch(context.Background(), "s"))
	}
	d.Wait()

	assert.Equal(t, int32(6), runner.runs.Load())
	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(2))
}

func TestInlineDispatcherEndToEnd(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	d := NewInlineDispatcher(ctx, h.orch, 1)
	h.orch.SetDispatcher(d)

	id, err := h.orch.Create(ctx, uploads("a.py", "x = 1\ny = x + 1\n", "b.py", "# note\nx = 1\ny = x + 1\n"), models.DefaultScanOptions())
	require.NoError(t, err)
	d.Wait()

	res, err := h.orch.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, 100.0, res.Pairs[0].Similarity)
}
