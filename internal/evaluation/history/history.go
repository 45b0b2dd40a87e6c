// Package history persists evaluation reports so retrieval quality can be
// compared across index generations and scorer settings.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

const schema = `CREATE TABLE IF NOT EXISTS evaluation_runs (
	run_id                    TEXT NOT NULL,
	split                     TEXT NOT NULL,
	generation                BIGINT NOT NULL,
	k                         INTEGER NOT NULL,
	total_claims              INTEGER NOT NULL,
	claims_with_full_coverage INTEGER NOT NULL,
	coverage_rate             DOUBLE PRECISION NOT NULL,
	average_recall            DOUBLE PRECISION NOT NULL,
	excluded_claims           INTEGER NOT NULL,
	by_hops                   TEXT NOT NULL,
	created_at                TEXT NOT NULL,
	PRIMARY KEY (run_id, split)
)`

// timeLayout is fixed-width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one persisted evaluation.
type Run struct {
	RunID      string
	Split      string
	Generation uint64
	K          int
	evaluation.Aggregate
	ExcludedClaims int
	ByHops         map[int]*evaluation.Aggregate
	CreatedAt      time.Time
}

// RunFromReport captures report for storage.
func RunFromReport(runID string, generation uint64, k int, report *evaluation.Report) Run {
	return Run{
		RunID:          runID,
		Split:          report.Split,
		Generation:     generation,
		K:              k,
		Aggregate:      report.Aggregate,
		ExcludedClaims: report.ExcludedClaims,
		ByHops:         report.ByHops,
		CreatedAt:      time.Now().UTC(),
	}
}

type Store struct {
	client *database.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// New creates the schema if needed.
func New(ctx context.Context, client *database.Client) (*Store, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating evaluation_runs: %w", err)
	}
	return &Store{
		client: client,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond},
		logger: slog.Default().With("component", "evaluation-history", "driver", client.Driver()),
	}, nil
}

// Save inserts run, replacing an earlier run with the same id and split.
func (s *Store) Save(ctx context.Context, run Run) error {
	hops, err := json.Marshal(run.ByHops)
	if err != nil {
		return fmt.Errorf("encoding hop breakdown: %w", err)
	}
	query := s.client.Rebind(`INSERT INTO evaluation_runs (
		run_id, split, generation, k, total_claims, claims_with_full_coverage,
		coverage_rate, average_recall, excluded_claims, by_hops, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (run_id, split) DO UPDATE SET
		generation = excluded.generation,
		k = excluded.k,
		total_claims = excluded.total_claims,
		claims_with_full_coverage = excluded.claims_with_full_coverage,
		coverage_rate = excluded.coverage_rate,
		average_recall = excluded.average_recall,
		excluded_claims = excluded.excluded_claims,
		by_hops = excluded.by_hops,
		created_at = excluded.created_at`)

	err = resilience.Retry(ctx, "save evaluation run", s.retry, func() error {
		_, err := s.client.DB.ExecContext(ctx, query,
			run.RunID, run.Split, int64(run.Generation), run.K,
			run.TotalClaims, run.ClaimsWithFullCoverage,
			run.CoverageRate, run.AverageRecall, run.ExcludedClaims,
			string(hops), run.CreatedAt.UTC().Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving evaluation run %s/%s: %w", run.RunID, run.Split, err)
	}
	s.logger.Info("evaluation run saved",
		"run_id", run.RunID,
		"split", run.Split,
		"generation", run.Generation,
		"average_recall", run.AverageRecall,
	)
	return nil
}

// List returns up to limit runs for split, newest first. An empty split
// lists every split.
func (s *Store) List(ctx context.Context, split string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT run_id, split, generation, k, total_claims, claims_with_full_coverage,
		coverage_rate, average_recall, excluded_claims, by_hops, created_at
		FROM evaluation_runs`
	args := []any{}
	if split != "" {
		query += ` WHERE split = ?`
		args = append(args, split)
	}
	query += ` ORDER BY created_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.client.DB.QueryContext(ctx, s.client.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading evaluation runs: %w", err)
	}
	return runs, nil
}

// Latest returns the newest run for split.
func (s *Store) Latest(ctx context.Context, split string) (Run, bool, error) {
	runs, err := s.List(ctx, split, 1)
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run        Run
		generation int64
		hops       string
		createdAt  string
	)
	err := rows.Scan(&run.RunID, &run.Split, &generation, &run.K,
		&run.TotalClaims, &run.ClaimsWithFullCoverage,
		&run.CoverageRate, &run.AverageRecall, &run.ExcludedClaims,
		&hops, &createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("scanning evaluation run: %w", err)
	}
	run.Generation = uint64(generation)
	if err := json.Unmarshal([]byte(hops), &run.ByHops); err != nil {
		return Run{}, fmt.Errorf("decoding hop breakdown of %s: %w", run.RunID, err)
	}
	run.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing created_at of %s: %w", run.RunID, err)
	}
	return run, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.client.Close()
}
