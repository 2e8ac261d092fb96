package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flynn/mongorole/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(node string, outcome reconcile.Outcome) *reconcile.Report {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &reconcile.Report{
		Node:     node,
		Started:  start,
		Finished: start.Add(3 * time.Second),
		Results:  []reconcile.Result{{Resource: "file:/etc/mongod.conf", Outcome: outcome}},
	}
}

func TestRecordAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), time.Second)
	require.NoError(t, err)
	defer j.Close()

	last, err := j.Last()
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, o := range []reconcile.Outcome{reconcile.Changed, reconcile.Unchanged, reconcile.Failed} {
		_, err := j.Record(report("a.db", o))
		require.NoError(t, err)
	}

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].ID)
	assert.Equal(t, reconcile.Failed, entries[0].Report.Results[0].Outcome)
	assert.Equal(t, uint64(1), entries[2].ID)
	assert.Equal(t, 3*time.Second, entries[2].Report.Duration())

	entries, err = j.List(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	last, err = j.Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(3), last.ID)
	assert.True(t, last.Report.Failed())

	e, err := j.Get(2)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, reconcile.Unchanged, e.Report.Results[0].Outcome)

	e, err = j.Get(42)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPrune(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), time.Second)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		_, err := j.Record(report("a.db", reconcile.Unchanged))
		require.NoError(t, err)
	}
	removed, err := j.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(5), entries[0].ID)
	assert.Equal(t, uint64(4), entries[1].ID)

	// ids keep increasing after a prune
	id, err := j.Record(report("a.db", reconcile.Changed))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), id)
}

func TestLockExcludesSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, time.Second)
	require.NoError(t, err)

	_, err = Open(path, 50*time.Millisecond)
	assert.Equal(t, ErrLocked, err)
	_, err = OpenReadOnly(path, 50*time.Millisecond)
	assert.Equal(t, ErrLocked, err)

	require.NoError(t, j.Close())
	j, err = Open(path, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, j.Close())
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	_, err := OpenReadOnly(path, 50*time.Millisecond)
	assert.Error(t, err)

	j, err := Open(path, time.Second)
	require.NoError(t, err)
	_, err = j.Record(report("a.db", reconcile.Changed))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	r1, err := OpenReadOnly(path, 50*time.Millisecond)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := OpenReadOnly(path, 50*time.Millisecond)
	require.NoError(t, err)
	defer r2.Close()

	last, err := r2.Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a.db", last.Report.Node)
}
