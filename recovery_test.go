package simpledb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/config"
	"mit.edu/dsg/simpledb/storage"
)

func testConfig(dir string) config.Config {
	return config.Config{
		NumPages:               16,
		SharedLockTimeoutMs:    100,
		ExclusiveLockTimeoutMs: 300,
		DataDir:                filepath.Join(dir, "data"),
		LogPath:                filepath.Join(dir, "wal.log"),
	}
}

func pairDesc() *storage.TupleDesc {
	return storage.NewTupleDesc(
		[]common.Type{common.IntType, common.StringType},
		[]string{"id", "name"})
}

func pair(td *storage.TupleDesc, id int64, name string) *storage.Tuple {
	return storage.NewTuple(td, []common.Value{
		common.NewIntValue(id),
		common.NewStringValue(name),
	})
}

// openTestDB opens a database over dir and registers the "t" table.
// Opening the same dir again simulates a restart over the same files.
func openTestDB(t *testing.T, dir string) (*Database, *storage.HeapFile) {
	t.Helper()
	db, err := Open(testConfig(dir))
	require.NoError(t, err)
	f, err := db.CreateTable("t", pairDesc())
	require.NoError(t, err)
	return db, f
}

func insertCommitted(t *testing.T, db *Database, f *storage.HeapFile, id int64, name string) {
	t.Helper()
	tid, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, db.BufferPool.InsertTuple(tid, f.ID(), pair(f.TupleDesc(), id, name)))
	require.NoError(t, db.Commit(tid))
}

func scanIDs(t *testing.T, db *Database, f *storage.HeapFile) []int64 {
	t.Helper()
	tid, err := db.Begin()
	require.NoError(t, err)
	it := f.Iterator(tid, db.BufferPool)
	require.NoError(t, it.Open())
	defer it.Close()
	var ids []int64
	for it.Next() {
		ids = append(ids, it.Current().Field(0).IntValue())
	}
	require.NoError(t, it.Error())
	require.NoError(t, db.Commit(tid))
	return ids
}

func TestCommitSurvivesCrash(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")
	// Crash: no shutdown, no checkpoint.

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1}, scanIDs(t, db2, f2))
}

func TestAbortRollsBackOneUpdate(t *testing.T) {
	dir := t.TempDir()
	db, f := openTestDB(t, dir)

	insertCommitted(t, db, f, 1, "a")

	t2, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, db.BufferPool.InsertTuple(t2, f.ID(), pair(f.TupleDesc(), 2, "b")))
	require.NoError(t, db.Abort(t2))

	assert.Equal(t, []int64{1}, scanIDs(t, db, f))
}

func TestCrashWithLoser(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")

	t2, err := db1.Begin()
	require.NoError(t, err)
	require.NoError(t, db1.BufferPool.InsertTuple(t2, f1.ID(), pair(f1.TupleDesc(), 2, "b")))
	// Crash with t2 neither committed nor aborted.

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1}, scanIDs(t, db2, f2))
}

func TestCrashWithLoserAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")

	t2, err := db1.Begin()
	require.NoError(t, err)
	require.NoError(t, db1.BufferPool.InsertTuple(t2, f1.ID(), pair(f1.TupleDesc(), 2, "b")))
	// The checkpoint pushes t2's uncommitted page to disk (the sanctioned
	// NO-STEAL exception), so recovery must actively undo it.
	require.NoError(t, db1.Log.LogCheckpoint())

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1}, scanIDs(t, db2, f2))
}

func TestAbortAfterCheckpointRevertsDisk(t *testing.T) {
	dir := t.TempDir()
	db, f := openTestDB(t, dir)

	insertCommitted(t, db, f, 1, "a")

	t2, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, db.BufferPool.InsertTuple(t2, f.ID(), pair(f.TupleDesc(), 2, "b")))
	require.NoError(t, db.Log.LogCheckpoint())
	require.NoError(t, db.Abort(t2))

	assert.Equal(t, []int64{1}, scanIDs(t, db, f))

	// The on-disk page must agree, not just the cache.
	onDisk, err := f.ReadPage(common.PageID{Table: f.ID(), PageNum: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, onDisk.(*storage.HeapPage).NumUsedSlots())
}

func TestAbortedTransactionStaysDeadAfterCrash(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")

	t2, err := db1.Begin()
	require.NoError(t, err)
	require.NoError(t, db1.BufferPool.InsertTuple(t2, f1.ID(), pair(f1.TupleDesc(), 2, "b")))
	require.NoError(t, db1.Log.LogCheckpoint())
	require.NoError(t, db1.Abort(t2))

	insertCommitted(t, db1, f1, 3, "c")
	// Crash after an abort followed by more committed work.

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1, 3}, scanIDs(t, db2, f2))
}

func TestCheckpointTruncatesAndRecovers(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	for i := 1; i <= 3; i++ {
		insertCommitted(t, db1, f1, int64(i), "x")
	}
	before, err := os.Stat(testConfig(dir).LogPath)
	require.NoError(t, err)

	require.NoError(t, db1.Log.LogCheckpoint())

	after, err := os.Stat(testConfig(dir).LogPath)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size(), "checkpoint must shrink the log")

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1, 2, 3}, scanIDs(t, db2, f2))
}

func TestRecoveryIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")
	t2, err := db1.Begin()
	require.NoError(t, err)
	require.NoError(t, db1.BufferPool.InsertTuple(t2, f1.ID(), pair(f1.TupleDesc(), 2, "b")))

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	first := scanIDs(t, db2, f2)

	db3, f3 := openTestDB(t, dir)
	require.NoError(t, db3.Recover())
	require.NoError(t, db3.Recover())
	assert.Equal(t, first, scanIDs(t, db3, f3))
	assert.Equal(t, []int64{1}, first)
}

func TestShutdownCheckpointsForFastRestart(t *testing.T) {
	dir := t.TempDir()

	db1, f1 := openTestDB(t, dir)
	insertCommitted(t, db1, f1, 1, "a")
	insertCommitted(t, db1, f1, 2, "b")
	db1.Shutdown()

	db2, f2 := openTestDB(t, dir)
	require.NoError(t, db2.Recover())
	assert.Equal(t, []int64{1, 2}, scanIDs(t, db2, f2))
}
