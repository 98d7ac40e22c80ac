// Package store keeps a SQLite ledger of workflow runs: what was trained,
// where the artifact went and how well the converted model agreed.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/scigo/onnxpipe/pkg/errors"
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row.
type Run struct {
	ID             string
	CreatedAt      time.Time
	Seed           uint64
	Dataset        string
	TrainSamples   int
	TestSamples    int
	Estimators     int
	BaselineR2     float64
	AgreementR2    float64
	ArtifactPath   string
	ArtifactSHA256 string
	BatchSupported bool
	BatchError     string
}

// Store is a SQLite-backed run ledger. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    created_at      TEXT NOT NULL,
    seed            INTEGER NOT NULL,
    dataset         TEXT NOT NULL,
    train_samples   INTEGER NOT NULL,
    test_samples    INTEGER NOT NULL,
    estimators      INTEGER NOT NULL,
    baseline_r2     REAL NOT NULL,
    agreement_r2    REAL NOT NULL,
    artifact_path   TEXT NOT NULL,
    artifact_sha256 TEXT NOT NULL,
    batch_supported INTEGER NOT NULL,
    batch_error     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		connStr = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "store: initialize %s", path)
	}
	return &Store{db: db, path: path}, nil
}

// Record inserts r. An empty ID is replaced by a new UUID and a zero
// CreatedAt by the current time; the stored id is returned.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runs (id, created_at, seed, dataset, train_samples, test_samples, estimators,
            baseline_r2, agreement_r2, artifact_path, artifact_sha256, batch_supported, batch_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(timeLayout), int64(r.Seed), r.Dataset,
		r.TrainSamples, r.TestSamples, r.Estimators,
		r.BaselineR2, r.AgreementR2, r.ArtifactPath, r.ArtifactSHA256,
		r.BatchSupported, r.BatchError,
	)
	if err != nil {
		return "", errors.Wrapf(err, "store: record run %s", r.ID)
	}
	return r.ID, nil
}

const selectRuns = `
    SELECT id, created_at, seed, dataset, train_samples, test_samples, estimators,
        baseline_r2, agreement_r2, artifact_path, artifact_sha256, batch_supported, batch_error
    FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r       Run
		created string
		seed    int64
	)
	err := sc.Scan(&r.ID, &created, &seed, &r.Dataset, &r.TrainSamples, &r.TestSamples, &r.Estimators,
		&r.BaselineR2, &r.AgreementR2, &r.ArtifactPath, &r.ArtifactSHA256, &r.BatchSupported, &r.BatchError)
	if err != nil {
		return Run{}, err
	}
	r.Seed = uint64(seed)
	r.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return Run{}, errors.Wrapf(err, "store: run %s has a bad timestamp", r.ID)
	}
	return r, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "store: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: get run %s", id)
	}
	return &r, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "store: list runs")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "store: list runs")
	}
	return runs, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
