package logging

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/simpledb/common"
)

// fakeStore records the calls the log makes against the buffer pool.
type fakeStore struct {
	sync.Mutex
	flushed   int
	discarded []common.PageID
	installed []installCall
	written   []common.PageID
}

type installCall struct {
	pid     common.PageID
	dirtier common.TransactionID
	data    []byte
}

func (s *fakeStore) FlushAllPages() error {
	s.flushed++
	return nil
}

func (s *fakeStore) DiscardPage(pid common.PageID) {
	s.discarded = append(s.discarded, pid)
}

func (s *fakeStore) InstallPage(img *PageImage, dirtier common.TransactionID) error {
	pid, err := img.PageID()
	if err != nil {
		return err
	}
	s.installed = append(s.installed, installCall{pid: pid, dirtier: dirtier, data: img.Data})
	return nil
}

func (s *fakeStore) WriteBack(img *PageImage) error {
	pid, err := img.PageID()
	if err != nil {
		return err
	}
	s.written = append(s.written, pid)
	return nil
}

func testLog(t *testing.T) (*LogFile, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	lf, err := OpenLogFile(filepath.Join(t.TempDir(), "wal.log"), store)
	require.NoError(t, err)
	return lf, store
}

func image(pid common.PageID, fill byte) *PageImage {
	data := make([]byte, 64)
	for i := range data {
		data[i] = fill
	}
	return &PageImage{
		PageClass: "HeapPage",
		IDClass:   "PageID",
		IDArgs:    pid.Serialize(),
		Data:      data,
	}
}

func TestLogBeginTracksActive(t *testing.T) {
	lf, _ := testLog(t)
	tid := common.TransactionID(1)

	require.NoError(t, lf.LogBegin(tid))
	assert.True(t, lf.Active(tid))

	err := lf.LogBegin(tid)
	require.Error(t, err, "double BEGIN for a live transaction")
	var dberr common.DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, common.LogError, dberr.Code)

	require.NoError(t, lf.LogCommit(tid))
	assert.False(t, lf.Active(tid))
	require.NoError(t, lf.LogBegin(tid), "a completed tid may begin again")
}

func TestRollbackInstallsBeforeImages(t *testing.T) {
	lf, store := testLog(t)
	tid := common.TransactionID(2)
	pid := common.PageID{Table: 5, PageNum: 0}

	require.NoError(t, lf.LogBegin(tid))
	require.NoError(t, lf.LogWrite(tid, image(pid, 0xAA), image(pid, 0xBB)))
	require.NoError(t, lf.LogAbort(tid))

	require.Len(t, store.discarded, 1)
	assert.Equal(t, pid, store.discarded[0])
	require.Len(t, store.installed, 1)
	assert.Equal(t, pid, store.installed[0].pid)
	assert.Equal(t, tid, store.installed[0].dirtier, "restored page is dirty under the aborting tid")
	assert.Equal(t, byte(0xAA), store.installed[0].data[0], "rollback restores the before-image")
	assert.False(t, lf.Active(tid))
}

func TestRollbackSkipsOtherTransactions(t *testing.T) {
	lf, store := testLog(t)
	t1 := common.TransactionID(3)
	t2 := common.TransactionID(4)
	p1 := common.PageID{Table: 5, PageNum: 1}
	p2 := common.PageID{Table: 5, PageNum: 2}

	require.NoError(t, lf.LogBegin(t1))
	require.NoError(t, lf.LogBegin(t2))
	require.NoError(t, lf.LogWrite(t1, image(p1, 0x01), image(p1, 0x02)))
	require.NoError(t, lf.LogWrite(t2, image(p2, 0x03), image(p2, 0x04)))
	require.NoError(t, lf.LogAbort(t2))

	require.Len(t, store.installed, 1)
	assert.Equal(t, p2, store.installed[0].pid, "only the aborting transaction's pages revert")
	assert.True(t, lf.Active(t1))
}

func TestRollbackUnknownTid(t *testing.T) {
	lf, _ := testLog(t)
	err := lf.Rollback(common.TransactionID(99))
	require.Error(t, err)
	var dberr common.DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, common.NotFoundError, dberr.Code)
}

func TestCheckpointFlushesAndTruncates(t *testing.T) {
	lf, store := testLog(t)
	pid := common.PageID{Table: 5, PageNum: 0}

	// Three committed transactions, each with one update.
	for i := 1; i <= 3; i++ {
		tid := common.TransactionID(10 + i)
		require.NoError(t, lf.LogBegin(tid))
		require.NoError(t, lf.LogWrite(tid, image(pid, byte(i)), image(pid, byte(i+1))))
		require.NoError(t, lf.LogCommit(tid))
	}
	before := lf.CurrentOffset()

	require.NoError(t, lf.LogCheckpoint())
	assert.Equal(t, 1, store.flushed, "checkpoint forces the buffer pool")
	assert.Less(t, lf.CurrentOffset(), before, "truncation must shrink the log")

	stat, err := os.Stat(lf.path)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), lf.CurrentOffset())
}

func TestTruncateKeepsLiveTransactions(t *testing.T) {
	lf, store := testLog(t)
	pid := common.PageID{Table: 5, PageNum: 0}

	done := common.TransactionID(21)
	require.NoError(t, lf.LogBegin(done))
	require.NoError(t, lf.LogWrite(done, image(pid, 0x01), image(pid, 0x02)))
	require.NoError(t, lf.LogCommit(done))

	live := common.TransactionID(22)
	require.NoError(t, lf.LogBegin(live))
	require.NoError(t, lf.LogWrite(live, image(pid, 0x02), image(pid, 0x03)))

	require.NoError(t, lf.LogCheckpoint())
	assert.True(t, lf.Active(live), "truncation rewrites the live transaction's offsets")

	// The rewritten offsets must still support rollback.
	store.installed = nil
	require.NoError(t, lf.LogAbort(live))
	require.Len(t, store.installed, 1)
	assert.Equal(t, byte(0x02), store.installed[0].data[0])
}

func TestFirstAppendDiscardsStaleLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	store := &fakeStore{}

	lf, err := OpenLogFile(path, store)
	require.NoError(t, err)
	tid := common.TransactionID(31)
	require.NoError(t, lf.LogBegin(tid))
	require.NoError(t, lf.LogCommit(tid))
	size1 := lf.CurrentOffset()

	// Reopen and append without recovering: the old contents are dropped.
	lf2, err := OpenLogFile(path, store)
	require.NoError(t, err)
	require.NoError(t, lf2.LogBegin(common.TransactionID(32)))
	assert.Less(t, lf2.CurrentOffset(), size1+8, "stale records were truncated before the append")
}
