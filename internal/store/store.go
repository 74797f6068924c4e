package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS fix_runs (
    run_id           UUID PRIMARY KEY,
    fixture          TEXT NOT NULL,
    success          BOOLEAN NOT NULL,
    final_score      DOUBLE PRECISION NOT NULL,
    errors_remaining INTEGER NOT NULL,
    phases           TEXT[] NOT NULL,
    metrics          JSONB NOT NULL,
    error_message    TEXT NOT NULL DEFAULT '',
    fixed_html       TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS fix_run_history (
    run_id           UUID NOT NULL REFERENCES fix_runs(run_id) ON DELETE CASCADE,
    seq              INTEGER NOT NULL,
    phase            TEXT NOT NULL,
    attempt          INTEGER NOT NULL,
    score            DOUBLE PRECISION NOT NULL,
    errors_remaining INTEGER NOT NULL,
    detail           TEXT NOT NULL DEFAULT '',
    recorded_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

const (
	sqlInsertRun = `
        INSERT INTO fix_runs (run_id, fixture, success, final_score, errors_remaining, phases, metrics, error_message, fixed_html, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlSelectRun = `
        SELECT run_id, fixture, success, final_score, errors_remaining, phases, metrics, error_message, fixed_html, created_at
        FROM fix_runs
        WHERE run_id = $1;
    `
	sqlSelectHistory = `
        SELECT phase, attempt, score, errors_remaining, detail, recorded_at
        FROM fix_run_history
        WHERE run_id = $1
        ORDER BY seq ASC;
    `
)

var historyColumns = []string{"run_id", "seq", "phase", "attempt", "score", "errors_remaining", "detail", "recorded_at"}

// Run is a persisted fix invocation.
type Run struct {
	Fixture   string                     `json:"fixture"`
	CreatedAt time.Time                  `json:"created_at"`
	Result    schemas.OrchestratorResult `json:"result"`
}

// Store persists fix runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the run tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes a result and its phase history in one transaction.
func (s *Store) SaveRun(ctx context.Context, fixture string, res *schemas.OrchestratorResult) error {
	if res == nil || res.RunID == "" {
		return errors.New("cannot persist a result without a run id")
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode run metrics: %w", err)
	}
	phases := make([]string, len(res.PhasesCompleted))
	for i, p := range res.PhasesCompleted {
		phases[i] = string(p)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		res.RunID, fixture, res.Success, res.FinalScore, res.ErrorsRemaining,
		phases, metrics, res.ErrorMessage, res.FixedHTML, s.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	if len(res.History) > 0 {
		if err := s.persistHistory(ctx, tx, res.RunID, res.History); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted", zap.String("run_id", res.RunID), zap.String("fixture", fixture))
	return nil
}

func (s *Store) persistHistory(ctx context.Context, tx pgx.Tx, runID string, history []schemas.HistoryEntry) error {
	rows := make([][]interface{}, len(history))
	for i, h := range history {
		rows[i] = []interface{}{
			runID, i, string(h.Phase), h.Attempt, h.Score, h.ErrorsRemaining, h.Detail, h.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"fix_run_history"}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy run history: %w", err)
	}
	if int(copyCount) != len(history) {
		return fmt.Errorf("mismatch in copied history count: expected %d, got %d", len(history), copyCount)
	}
	return nil
}

// GetRun loads a run and its history. It returns ErrNotFound for unknown ids.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, ErrNotFound
	}

	var (
		run     Run
		phases  []string
		metrics []byte
	)
	if err := rows.Scan(
		&run.Result.RunID, &run.Fixture, &run.Result.Success, &run.Result.FinalScore,
		&run.Result.ErrorsRemaining, &phases, &metrics, &run.Result.ErrorMessage,
		&run.Result.FixedHTML, &run.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	rows.Close()

	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &run.Result.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode run metrics: %w", err)
		}
	}
	run.Result.PhasesCompleted = make([]schemas.FixPhase, len(phases))
	for i, p := range phases {
		run.Result.PhasesCompleted[i] = schemas.FixPhase(p)
	}

	history, err := s.history(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Result.History = history
	return &run, nil
}

func (s *Store) history(ctx context.Context, runID string) ([]schemas.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, sqlSelectHistory, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	history := []schemas.HistoryEntry{}
	for rows.Next() {
		var (
			h     schemas.HistoryEntry
			phase string
		)
		if err := rows.Scan(&phase, &h.Attempt, &h.Score, &h.ErrorsRemaining, &h.Detail, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Phase = schemas.FixPhase(phase)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return history, nil
}
