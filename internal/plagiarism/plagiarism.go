package plagiarism

import (
	"context"
	"fmt"
	"sort"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/rs/zerolog/log"
)

// PairJob scores one document pair on the worker pool
type PairJob struct {
	ctx        context.Context // scan context; cancelled jobs are skipped
	engine     *Engine
	docA       *Document
	docB       *Document
	candidate  bool
	resultChan chan<- models.PairResult
}

// Execute executes the comparison and hands the row to the collector
func (j *PairJob) Execute(poolCtx context.Context) error {
	if j.ctx.Err() != nil {
		return nil
	}

	row := models.PairResult{
		FileA:        j.docA.Name,
		FileB:        j.docB.Name,
		OverlapSpans: []models.Span{},
	}
	// pairs with no shared hash never reach the comparator
	if j.candidate {
		cmp := j.engine.Compare(j.docA, j.docB)
		row.Similarity = cmp.Similarity
		row.OverlapSpans = cmp.Spans
	}
	row.Label = GetLabel(row.Similarity)

	select {
	case <-j.ctx.Done():
		return nil
	case <-poolCtx.Done():
		return poolCtx.Err()
	case j.resultChan <- row:
		return nil
	}
}

// ComparePairs scores every unordered pair of docs exactly once on pool and returns
// the rows sorted by (FileA, FileB) with FileA < FileB. onPair is called from the
// caller's goroutine after each row arrives. Document names must be unique.
func ComparePairs(
	ctx context.Context,
	pool *WorkerPool,
	engine *Engine,
	docs []*Document,
	onPair func(),
) ([]models.PairResult, error) {
	sorted := make([]*Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, fmt.Errorf("duplicate document name %q", sorted[i].Name)
		}
	}

	n := len(sorted)
	total := n * (n - 1) / 2
	if total == 0 {
		return []models.PairResult{}, nil
	}

	candidates, allCandidates := BuildGII(sorted).CandidatePairs(n)
	log.Debug().
		Int("documents", n).
		Int("pairs", total).
		Int("candidates", len(candidates)).
		Bool("all_candidates", allCandidates).
		Msg("Pair phase started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan models.PairResult, min(total, 256))
	submitErr := make(chan error, 1)

	// Upper-triangular iteration, each pair submitted once
	go func() {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				_, candidate := candidates[Pair{A: i, B: j}]
				candidate = candidate || allCandidates
				job := &PairJob{
					ctx:        ctx,
					engine:     engine,
					docA:       sorted[i],
					docB:       sorted[j],
					candidate:  candidate,
					resultChan: resultChan,
				}
				if err := pool.Submit(ctx, job); err != nil {
					submitErr <- err
					return
				}
			}
		}
	}()

	rows := make([]models.PairResult, 0, total)
	for len(rows) < total {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pool.ctx.Done():
			return nil, fmt.Errorf("worker pool closed: %w", pool.ctx.Err())
		case err := <-submitErr:
			return nil, fmt.Errorf("failed to schedule pair comparison: %w", err)
		case row := <-resultChan:
			rows = append(rows, row)
			if onPair != nil {
				onPair()
			}
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FileA != rows[j].FileA {
			return rows[i].FileA < rows[j].FileA
		}
		return rows[i].FileB < rows[j].FileB
	})
	return rows, nil
}
