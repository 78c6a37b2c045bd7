package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
)

// memoryDB backs the in-process store used with STORE_BACKEND=memory and in tests
type memoryDB struct {
	mu      sync.RWMutex
	scans   map[string]*models.Scan
	files   map[string][]models.SourceFile
	results map[string][]models.PairResult
	alerts  []models.Alert
}

// NewMemoryStore returns a Store held entirely in process memory
func NewMemoryStore() *Store {
	db := &memoryDB{
		scans:   make(map[string]*models.Scan),
		files:   make(map[string][]models.SourceFile),
		results: make(map[string][]models.PairResult),
	}
	return &Store{
		Scans:   &memoryScans{db},
		Files:   &memoryFiles{db},
		Results: &memoryResults{db},
		Alerts:  &memoryAlerts{db},
	}
}

func cloneScan(s *models.Scan) *models.Scan {
	c := *s
	c.Logs = append([]models.LogEntry{}, s.Logs...)
	if s.Excluded != nil {
		c.Excluded = append([]string{}, s.Excluded...)
	}
	return &c
}

type memoryScans struct{ db *memoryDB }

func (m *memoryScans) Create(_ context.Context, scan *models.Scan) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.scans[scan.ID]; ok {
		return fmt.Errorf("failed to insert scan: duplicate id %s", scan.ID)
	}
	m.db.scans[scan.ID] = cloneScan(scan)
	return nil
}

func (m *memoryScans) Get(_ context.Context, id string) (*models.Scan, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	s, ok := m.db.scans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneScan(s), nil
}

func (m *memoryScans) List(_ context.Context, limit int) ([]models.Scan, error) {
	m.db.mu.RLock()
	scans := make([]models.Scan, 0, len(m.db.scans))
	for _, s := range m.db.scans {
		c := cloneScan(s)
		c.Logs = nil
		scans = append(scans, *c)
	}
	m.db.mu.RUnlock()

	sort.Slice(scans, func(i, j int) bool {
		if !scans[i].CreatedAt.Equal(scans[j].CreatedAt) {
			return scans[i].CreatedAt.After(scans[j].CreatedAt)
		}
		return scans[i].ID < scans[j].ID
	})
	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}
	return scans, nil
}

// update applies fn under the write lock when allow accepts the current status
func (m *memoryScans) update(id string, allow func(models.ScanStatus) bool, fn func(*models.Scan)) bool {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.scans[id]
	if !ok || !allow(s.Status) {
		return false
	}
	fn(s)
	return true
}

func nonTerminal(s models.ScanStatus) bool { return !s.Terminal() }

func (m *memoryScans) MarkRunning(_ context.Context, id string, startedAt time.Time) (bool, error) {
	return m.update(id, func(s models.ScanStatus) bool { return s == models.StatusQueued }, func(s *models.Scan) {
		s.Status = models.StatusRunning
		s.StartedAt = &startedAt
	}), nil
}

func (m *memoryScans) UpdateProgress(_ context.Context, id string, progress int) error {
	m.update(id, nonTerminal, func(s *models.Scan) {
		s.Progress = max(s.Progress, progress)
	})
	return nil
}

func (m *memoryScans) AppendLog(_ context.Context, id string, entry models.LogEntry) error {
	m.update(id, func(models.ScanStatus) bool { return true }, func(s *models.Scan) {
		s.Logs = append(s.Logs, entry)
		if len(s.Logs) > maxScanLogs {
			s.Logs = s.Logs[len(s.Logs)-maxScanLogs:]
		}
	})
	return nil
}

func (m *memoryScans) SetCounts(_ context.Context, id string, fileCount, pairCount int, excluded []string) error {
	m.update(id, nonTerminal, func(s *models.Scan) {
		s.FileCount = fileCount
		s.PairCount = pairCount
		s.Excluded = append([]string(nil), excluded...)
	})
	return nil
}

func (m *memoryScans) Complete(_ context.Context, id string, c models.Completion) (bool, error) {
	return m.update(id, func(s models.ScanStatus) bool { return s == models.StatusRunning }, func(s *models.Scan) {
		finished := c.FinishedAt
		s.Status = models.StatusComplete
		s.Progress = 100
		s.FileCount = c.FileCount
		s.PairCount = c.PairCount
		s.Excluded = append([]string(nil), c.Excluded...)
		s.HighRiskCount = c.HighRiskCount
		s.TopSimilarity = c.TopSimilarity
		s.MeanSimilarity = c.MeanSimilarity
		s.RuntimeMS = c.RuntimeMS
		s.FinishedAt = &finished
	}), nil
}

func (m *memoryScans) Fail(_ context.Context, id string, f models.Failure) (bool, error) {
	return m.update(id, nonTerminal, func(s *models.Scan) {
		finished := f.FinishedAt
		s.Status = models.StatusFailed
		s.ErrorCode = f.ErrorCode
		s.Error = f.Error
		s.RuntimeMS = f.RuntimeMS
		s.FinishedAt = &finished
		if f.Excluded != nil {
			s.Excluded = append([]string(nil), f.Excluded...)
		}
	}), nil
}

func (m *memoryScans) Cancel(_ context.Context, id string, finishedAt time.Time) (bool, error) {
	return m.update(id, nonTerminal, func(s *models.Scan) {
		s.Status = models.StatusCancelled
		s.FinishedAt = &finishedAt
	}), nil
}

type memoryFiles struct{ db *memoryDB }

func (m *memoryFiles) InsertMany(_ context.Context, files []models.SourceFile) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, f := range files {
		for _, existing := range m.db.files[f.ScanID] {
			if existing.Name == f.Name {
				return fmt.Errorf("failed to insert scan files: duplicate name %s", f.Name)
			}
		}
		m.db.files[f.ScanID] = append(m.db.files[f.ScanID], f)
	}
	return nil
}

func (m *memoryFiles) ListByScan(_ context.Context, scanID string) ([]models.SourceFile, error) {
	m.db.mu.RLock()
	files := append([]models.SourceFile{}, m.db.files[scanID]...)
	m.db.mu.RUnlock()
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (m *memoryFiles) Get(_ context.Context, scanID, name string) (*models.SourceFile, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	for _, f := range m.db.files[scanID] {
		if f.Name == name {
			f := f
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

type memoryResults struct{ db *memoryDB }

func (m *memoryResults) ReplaceAll(_ context.Context, scanID string, rows []models.PairResult) error {
	stored := make([]models.PairResult, len(rows))
	for i, row := range rows {
		row.ScanID = scanID
		row.OverlapSpans = append([]models.Span{}, row.OverlapSpans...)
		stored[i] = row
	}
	m.db.mu.Lock()
	m.db.results[scanID] = stored
	m.db.mu.Unlock()
	return nil
}

func (m *memoryResults) DeleteByScan(_ context.Context, scanID string) error {
	m.db.mu.Lock()
	delete(m.db.results, scanID)
	m.db.mu.Unlock()
	return nil
}

func (m *memoryResults) ListByScan(_ context.Context, scanID string) ([]models.PairResult, error) {
	m.db.mu.RLock()
	rows := append([]models.PairResult{}, m.db.results[scanID]...)
	m.db.mu.RUnlock()

	plagiarism.SortResults(rows)
	return rows, nil
}

func (m *memoryResults) Count(_ context.Context, scanID string) (int64, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	return int64(len(m.db.results[scanID])), nil
}

type memoryAlerts struct{ db *memoryDB }

func (m *memoryAlerts) Insert(_ context.Context, alert *models.Alert) error {
	m.db.mu.Lock()
	m.db.alerts = append(m.db.alerts, *alert)
	m.db.mu.Unlock()
	return nil
}

func (m *memoryAlerts) List(_ context.Context, limit int, query string) ([]models.Alert, error) {
	q := strings.ToLower(query)

	m.db.mu.RLock()
	alerts := make([]models.Alert, 0, len(m.db.alerts))
	// newest first; insertion order breaks CreatedAt ties
	for i := len(m.db.alerts) - 1; i >= 0; i-- {
		a := m.db.alerts[i]
		if q == "" || alertMatches(a, q) {
			alerts = append(alerts, a)
		}
	}
	m.db.mu.RUnlock()

	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func alertMatches(a models.Alert, lowered string) bool {
	for _, field := range []string{a.ScanID, a.Service, a.ErrorCode, a.Message} {
		if strings.Contains(strings.ToLower(field), lowered) {
			return true
		}
	}
	return false
}
