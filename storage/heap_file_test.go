package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/transaction"
)

// stubTables is the minimal TableSource for in-package tests.
type stubTables struct {
	files map[int32]DbFile
}

func newStubTables(files ...DbFile) *stubTables {
	s := &stubTables{files: make(map[int32]DbFile)}
	for _, f := range files {
		s.files[f.ID()] = f
	}
	return s
}

func (s *stubTables) DatabaseFile(table int32) (DbFile, error) {
	if f, ok := s.files[table]; ok {
		return f, nil
	}
	return nil, common.DBError{Code: common.StorageError, ErrString: "no such table"}
}

func testPool(t *testing.T, numPages int, files ...DbFile) *BufferPool {
	t.Helper()
	lm := transaction.NewLockManager(50*time.Millisecond, 100*time.Millisecond)
	return NewBufferPool(numPages, newStubTables(files...), lm)
}

func newTestHeapFile(t *testing.T, td *TupleDesc) *HeapFile {
	t.Helper()
	f, err := NewHeapFile(filepath.Join(t.TempDir(), "table.dat"), td)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestHeapFileStableID(t *testing.T) {
	td := testDesc()
	dir := t.TempDir()
	path := filepath.Join(dir, "t.dat")

	f1, err := NewHeapFile(path, td)
	require.NoError(t, err)
	id := f1.ID()
	require.NoError(t, f1.Close())

	f2, err := NewHeapFile(path, td)
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, id, f2.ID(), "id is a stable hash of the absolute path")
}

func TestHeapFileReadOutOfRange(t *testing.T) {
	td := testDesc()
	f := newTestHeapFile(t, td)

	n, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.ReadPage(common.PageID{Table: f.ID(), PageNum: 0})
	require.Error(t, err)
	var dberr common.DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, common.InvalidArgumentError, dberr.Code)
}

func TestHeapFileWriteReadRoundTrip(t *testing.T) {
	td := testDesc()
	f := newTestHeapFile(t, td)

	pageNum, err := f.appendEmptyPage()
	require.NoError(t, err)
	pid := common.PageID{Table: f.ID(), PageNum: int32(pageNum)}

	p := NewEmptyHeapPage(pid, td)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.InsertTuple(testTuple(td, i)))
	}
	require.NoError(t, f.WritePage(p))

	got, err := f.ReadPage(pid)
	require.NoError(t, err)
	assert.Equal(t, p.Data(), got.Data(), "read_page(write_page(P)) must be byte-exact")
}

func TestHeapFileInsertAppendsPages(t *testing.T) {
	common.SetPageSize(128)
	defer common.ResetPageSize()

	td := NewTupleDesc([]common.Type{common.IntType}, []string{"x"})
	f := newTestHeapFile(t, td)
	pool := testPool(t, 16, f)
	tid := transaction.NewTransactionID()

	perPage := HeapPageSlots(td)
	total := perPage*2 + 1
	for i := 0; i < total; i++ {
		tup := NewTuple(td, []common.Value{common.NewIntValue(int64(i))})
		dirty, err := f.InsertTuple(tid, tup, pool)
		require.NoError(t, err)
		require.Len(t, dirty, 1, "insert dirties exactly one page")
	}

	n, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "overflow allocates a third page")
}

func TestHeapFileIterator(t *testing.T) {
	common.SetPageSize(128)
	defer common.ResetPageSize()

	td := NewTupleDesc([]common.Type{common.IntType}, []string{"x"})
	f := newTestHeapFile(t, td)
	pool := testPool(t, 16, f)
	tid := transaction.NewTransactionID()

	total := HeapPageSlots(td) + 3
	for i := 0; i < total; i++ {
		tup := NewTuple(td, []common.Value{common.NewIntValue(int64(i))})
		_, err := f.InsertTuple(tid, tup, pool)
		require.NoError(t, err)
	}

	it := f.Iterator(tid, pool)
	require.NoError(t, it.Open())
	defer it.Close()

	var got []int64
	for it.Next() {
		got = append(got, it.Current().Field(0).IntValue())
	}
	require.NoError(t, it.Error())
	require.Len(t, got, total)
	for i, v := range got {
		assert.Equal(t, int64(i), v, "iteration follows page then slot order")
	}

	require.NoError(t, it.Rewind())
	count := 0
	for it.Next() {
		count++
	}
	require.NoError(t, it.Error())
	assert.Equal(t, total, count, "rewind restarts the scan from the top")
}

func TestHeapFileIteratorSkipsTombstones(t *testing.T) {
	common.SetPageSize(128)
	defer common.ResetPageSize()

	td := NewTupleDesc([]common.Type{common.IntType}, []string{"x"})
	f := newTestHeapFile(t, td)
	pool := testPool(t, 16, f)
	tid := transaction.NewTransactionID()

	var tuples []*Tuple
	for i := 0; i < 6; i++ {
		tup := NewTuple(td, []common.Value{common.NewIntValue(int64(i))})
		_, err := f.InsertTuple(tid, tup, pool)
		require.NoError(t, err)
		tuples = append(tuples, tup)
	}
	for i := 0; i < 6; i += 2 {
		_, err := f.DeleteTuple(tid, tuples[i], pool)
		require.NoError(t, err)
	}

	it := f.Iterator(tid, pool)
	require.NoError(t, it.Open())
	defer it.Close()
	var got []int64
	for it.Next() {
		got = append(got, it.Current().Field(0).IntValue())
	}
	require.NoError(t, it.Error())
	assert.Equal(t, []int64{1, 3, 5}, got)
}

func TestHeapFileRejectsSchemaMismatch(t *testing.T) {
	td := testDesc()
	f := newTestHeapFile(t, td)
	pool := testPool(t, 4, f)
	tid := transaction.NewTransactionID()

	other := NewTupleDesc([]common.Type{common.IntType}, []string{"x"})
	_, err := f.InsertTuple(tid, NewTuple(other, []common.Value{common.NewIntValue(1)}), pool)
	require.Error(t, err)
	var dberr common.DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, common.StorageError, dberr.Code)
}
