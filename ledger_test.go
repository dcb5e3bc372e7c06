package slyconv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger(t *testing.T) {
	l := openTestLedger(t)
	l.now = func() time.Time { return time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC) }

	assert.Error(t, l.RecordBatch(DatasetInfo{ID: 2, Name: "val"}, nil, true), "no run started")

	require.NoError(t, l.StartRun(ProjectInfo{ID: 1, Name: "BDD100K"}))
	_, err := uuid.Parse(l.RunID())
	require.NoError(t, err)

	val := DatasetInfo{ID: 2, Name: "val"}
	require.NoError(t, l.RecordBatch(val, []ImageInfo{{ID: 10, Name: "a.jpg"}, {ID: 11, Name: "b.jpg"}}, true))
	require.NoError(t, l.RecordBatch(val, []ImageInfo{{ID: 12, Name: "c.jpg"}}, true))
	require.NoError(t, l.RecordBatch(DatasetInfo{ID: 3, Name: "test"}, []ImageInfo{{ID: 13, Name: "d.jpg"}}, false))

	n, err := l.Count("val")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = l.Count("test")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var annotated int
	var uploadedAt string
	require.NoError(t, l.db.QueryRow(
		`SELECT annotated, uploaded_at FROM uploads WHERE image_name = ?`, "d.jpg").
		Scan(&annotated, &uploadedAt))
	assert.Equal(t, 0, annotated)
	assert.Equal(t, "2020-06-01T12:00:00Z", uploadedAt)

	// A new run starts counting from zero.
	first := l.RunID()
	require.NoError(t, l.StartRun(ProjectInfo{ID: 4, Name: "BDD100K_001"}))
	assert.NotEqual(t, first, l.RunID())
	n, err = l.Count("val")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.StartRun(ProjectInfo{ID: 1, Name: "p"}))
	require.NoError(t, l.RecordBatch(DatasetInfo{ID: 2, Name: "val"}, []ImageInfo{{ID: 3, Name: "a.jpg"}}, true))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	var runs, uploads int
	require.NoError(t, l.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	require.NoError(t, l.db.QueryRow(`SELECT COUNT(*) FROM uploads`).Scan(&uploads))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, uploads)

	_, err = OpenLedger("")
	assert.Error(t, err)
}
