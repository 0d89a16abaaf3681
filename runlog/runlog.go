// Package runlog keeps a local SQLite history of batch runs, one row
// per run plus one per file, so earlier results stay inspectable after
// the terminal output is gone. The log is optional: opening it with an
// empty path yields a disabled instance whose methods do nothing.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sevigo/lmbatch/batch"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP NOT NULL,
	prompt_file     TEXT NOT NULL,
	backend         TEXT NOT NULL,
	model           TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	total_files     INTEGER NOT NULL,
	processed_files INTEGER NOT NULL,
	failed_files    INTEGER NOT NULL,
	total_tokens    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name   TEXT NOT NULL,
	state  TEXT NOT NULL,
	chunks INTEGER NOT NULL,
	tokens INTEGER NOT NULL,
	error  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
`

// RunInfo carries the settings of a run that the Summary itself does
// not know about.
type RunInfo struct {
	PromptFile string
	Backend    string
	Model      string
	Strategy   string
}

// Run is one recorded batch run.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	PromptFile     string
	Backend        string
	Model          string
	Strategy       string
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	TotalTokens    int
}

// Log is the run-history store. A nil-database Log is valid and
// disabled; every method is then a no-op.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the history database at path. An empty path
// returns a disabled log.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runlog")

	if path == "" {
		return &Log{logger: logger}, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single connection is all a CLI run needs, and it keeps WAL
	// writers from ever contending with each other.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	logger.Debug("history database opened", "path", path)
	return &Log{db: db, logger: logger}, nil
}

// Enabled reports whether runs are actually being recorded.
func (l *Log) Enabled() bool {
	return l.db != nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record stores one finished run and its per-file outcomes in a single
// transaction.
func (l *Log) Record(ctx context.Context, info RunInfo, sum *batch.Summary) error {
	if l.db == nil {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
			(id, started_at, finished_at, prompt_file, backend, model, strategy,
			 total_files, processed_files, failed_files, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.StartedAt, sum.FinishedAt, info.PromptFile, info.Backend,
		info.Model, info.Strategy, sum.TotalFiles, sum.ProcessedFiles,
		sum.FailedFiles, sum.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	for _, fs := range sum.Files {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_files (run_id, name, state, chunks, tokens, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sum.RunID, fs.Name, string(fs.State), fs.Chunks, fs.Tokens, fs.Err,
		)
		if err != nil {
			return fmt.Errorf("failed to record run file %s: %w", fs.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history transaction: %w", err)
	}

	l.logger.DebugContext(ctx, "run recorded",
		"run_id", sum.RunID,
		"files", len(sum.Files),
	)
	return nil
}

// Recent returns the latest n runs, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Run, error) {
	if l.db == nil || n <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, prompt_file, backend, model, strategy,
		       total_files, processed_files, failed_files, total_tokens
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		err := rows.Scan(
			&r.ID, &r.StartedAt, &r.FinishedAt, &r.PromptFile, &r.Backend,
			&r.Model, &r.Strategy, &r.TotalFiles, &r.ProcessedFiles,
			&r.FailedFiles, &r.TotalTokens,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}

	return runs, nil
}

// Files returns the per-file outcomes of one recorded run.
func (l *Log) Files(ctx context.Context, runID string) ([]batch.FileSummary, error) {
	if l.db == nil {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT name, state, chunks, tokens, error
		FROM run_files
		WHERE run_id = ?
		ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run files: %w", err)
	}
	defer rows.Close()

	var files []batch.FileSummary
	for rows.Next() {
		var fs batch.FileSummary
		var state string
		if err := rows.Scan(&fs.Name, &state, &fs.Chunks, &fs.Tokens, &fs.Err); err != nil {
			return nil, fmt.Errorf("failed to scan run file row: %w", err)
		}
		fs.State = batch.State(state)
		files = append(files, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run files: %w", err)
	}

	return files, nil
}
