package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/scizoninc/scizonai/internal/models"
)

const jobColumns = `id, status, progress, message, output_key, files, pages, paid, version, created_at, updated_at`

// SQLStore keeps jobs in a single table. Timestamps are unix milliseconds so
// the schema is identical for MySQL and SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL connects to driver (mysql or sqlite3) and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s job store needs JOB_STORE_DSN", driver)
	}
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "mysql":
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store := &SQLStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate ensures the jobs table exists.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL,
			output_key VARCHAR(512) NOT NULL DEFAULT '',
			files TEXT NOT NULL,
			pages INTEGER NOT NULL DEFAULT 0,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate jobs table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, job *models.Job) error {
	files, err := json.Marshal(job.Files)
	if err != nil {
		return fmt.Errorf("failed to encode job files: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Progress, job.Message, job.OutputKey, string(files),
		job.Pages, job.Paid, job.Version, job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		if existing, gerr := s.Get(ctx, job.ID); gerr == nil && existing != nil {
			return ErrExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, mutate MutateFunc) (*models.Job, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := mutateVersioned(job, mutate)
		if err != nil {
			return nil, err
		}
		files, err := json.Marshal(next.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job files: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, progress = ?, message = ?, output_key = ?, files = ?,
				pages = ?, paid = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(next.Status), next.Progress, next.Message, next.OutputKey, string(files),
			next.Pages, next.Paid, next.Version, next.UpdatedAt.UnixMilli(),
			id, job.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		if n == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

func (s *SQLStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to expire jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func scanJob(row *sql.Row) (*models.Job, error) {
	var (
		job       models.Job
		status    string
		files     string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&job.ID, &status, &job.Progress, &job.Message, &job.OutputKey, &files,
		&job.Pages, &job.Paid, &job.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if files != "" && files != "null" {
		if err := json.Unmarshal([]byte(files), &job.Files); err != nil {
			return nil, fmt.Errorf("failed to decode job files: %w", err)
		}
	}
	return &job, nil
}
