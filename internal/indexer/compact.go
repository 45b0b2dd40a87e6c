package indexer

import (
	"context"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// Compact merges every live segment into one, dropping tombstoned document
// versions, and commits the result as a new generation. Postings, statistics
// and stored documents are unchanged from a reader's point of view. The
// merge streams term by term and block by block, so memory stays bounded by
// the segment directories rather than the corpus.
func (e *Engine) Compact(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.compactLocked(ctx)
}

func (e *Engine) compactLocked(ctx context.Context) error {
	if e.cfg.ReadOnly {
		return apperrors.InvalidArgument("index at %s is open read-only", e.cfg.DataDir)
	}
	e.mu.RLock()
	closed, cur := e.closed, e.state
	e.mu.RUnlock()
	if closed {
		return apperrors.ErrIndexClosed
	}
	if cur == nil {
		return apperrors.NotCommitted("nothing to compact")
	}
	tombstoned := 0
	for _, dead := range cur.tombstones {
		tombstoned += len(dead)
	}
	if len(cur.readers) <= 1 && tombstoned == 0 {
		return nil
	}

	start := time.Now()
	all := make([]int, len(cur.readers))
	for i := range all {
		all[i] = i
	}
	next, err := e.mergeLocked(ctx, cur, all)
	if err != nil {
		e.countCompaction("error")
		return err
	}
	e.countCompaction("success")
	e.logger.Info("index compacted",
		"generation", next.Generation,
		"merged_segments", len(all),
		"dropped_versions", tombstoned,
		"docs", next.Stats.TotalDocs,
		"duration", time.Since(start),
	)
	return nil
}

func (e *Engine) countCompaction(status string) {
	if e.metrics != nil {
		e.metrics.IndexCompactionsTotal.WithLabelValues(status).Inc()
	}
}
