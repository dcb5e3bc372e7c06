package slyconv

// A sqlite record of uploaded images.

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	project    TEXT NOT NULL,
	project_id INTEGER NOT NULL,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS uploads (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	dataset     TEXT NOT NULL,
	dataset_id  INTEGER NOT NULL,
	image_name  TEXT NOT NULL,
	image_id    INTEGER NOT NULL,
	annotated   INTEGER NOT NULL,
	uploaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_run ON uploads(run_id, dataset);
`

// Recorder receives the result of every uploaded batch.
type Recorder interface {
	// StartRun registers a run for the project.
	StartRun(project ProjectInfo) error
	// RecordBatch records the images of a batch.
	RecordBatch(dataset DatasetInfo, images []ImageInfo, annotated bool) error
}

// nopRecorder is used when no ledger is configured.
type nopRecorder struct{}

func (nopRecorder) StartRun(ProjectInfo) error                       { return nil }
func (nopRecorder) RecordBatch(DatasetInfo, []ImageInfo, bool) error { return nil }

// Ledger is a Recorder backed by a sqlite database. Every run gets a new ID; a ledger is an
// audit trail and is not used to resume runs.
type Ledger struct {
	db    *sql.DB
	runID string
	now   func() time.Time
}

// OpenLedger opens (and if necessary creates) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create the ledger schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// RunID returns the ID of the current run, or "" before StartRun.
func (l *Ledger) RunID() string {
	return l.runID
}

// StartRun implements Recorder.
func (l *Ledger) StartRun(project ProjectInfo) error {
	l.runID = uuid.NewString()
	_, err := l.db.Exec(`INSERT INTO runs (run_id, project, project_id, started_at)
		VALUES (?, ?, ?, ?)`, l.runID, project.Name, project.ID, l.timestamp())
	return err
}

// RecordBatch implements Recorder.
func (l *Ledger) RecordBatch(dataset DatasetInfo, images []ImageInfo, annotated bool) (
	err error) {

	if l.runID == "" {
		return fmt.Errorf("no run started")
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`INSERT INTO uploads
		(run_id, dataset, dataset_id, image_name, image_id, annotated, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := l.timestamp()
	for _, img := range images {
		if _, err = stmt.Exec(l.runID, dataset.Name, dataset.ID, img.Name, img.ID, annotated,
			ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of images recorded for dataset in the current run.
func (l *Ledger) Count(dataset string) (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM uploads WHERE run_id = ? AND dataset = ?`,
		l.runID, dataset).Scan(&n)
	return n, err
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339)
}
