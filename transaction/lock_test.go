package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/simpledb/common"
)

func testLockManager() *LockManager {
	// Short deadlines keep the timeout tests fast.
	return NewLockManager(20*time.Millisecond, 60*time.Millisecond)
}

func TestSharedLocksCoexist(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}

	t1 := NewTransactionID()
	t2 := NewTransactionID()
	require.NoError(t, lm.Acquire(t1, pid, ReadOnly))
	require.NoError(t, lm.Acquire(t2, pid, ReadOnly))

	assert.True(t, lm.HoldsLock(t1, pid))
	assert.True(t, lm.HoldsLock(t2, pid))
}

func TestAcquireIsIdempotent(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}
	tid := NewTransactionID()

	require.NoError(t, lm.Acquire(tid, pid, ReadOnly))
	require.NoError(t, lm.Acquire(tid, pid, ReadOnly))
	lm.Release(tid, pid)
	assert.False(t, lm.HoldsLock(tid, pid), "holder set is a set, not a multiset")
}

func TestExclusiveConflictTimesOut(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}

	t1 := NewTransactionID()
	t2 := NewTransactionID()
	require.NoError(t, lm.Acquire(t1, pid, ReadWrite))

	err := lm.Acquire(t2, pid, ReadWrite)
	require.Error(t, err)
	assert.True(t, common.IsTransactionAborted(err))
	assert.True(t, lm.HoldsLock(t1, pid), "holder keeps the lock after the waiter aborts")
	assert.False(t, lm.HoldsLock(t2, pid))
}

func TestSharedBlockedByExclusiveTimesOut(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}

	t1 := NewTransactionID()
	t2 := NewTransactionID()
	require.NoError(t, lm.Acquire(t1, pid, ReadWrite))

	err := lm.Acquire(t2, pid, ReadOnly)
	require.Error(t, err)
	assert.True(t, common.IsTransactionAborted(err))
}

func TestExclusiveAlreadyHeldCoversShared(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}
	tid := NewTransactionID()

	require.NoError(t, lm.Acquire(tid, pid, ReadWrite))
	require.NoError(t, lm.Acquire(tid, pid, ReadOnly), "exclusive is already stronger")
	require.NoError(t, lm.Acquire(tid, pid, ReadWrite))
}

func TestUpgradeSoleSharedHolder(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}
	tid := NewTransactionID()

	require.NoError(t, lm.Acquire(tid, pid, ReadOnly))
	require.NoError(t, lm.Acquire(tid, pid, ReadWrite), "sole shared holder upgrades in place")
	assert.True(t, lm.HoldsLock(tid, pid))

	// Now exclusive: another reader must wait out its deadline.
	other := NewTransactionID()
	err := lm.Acquire(other, pid, ReadOnly)
	assert.True(t, common.IsTransactionAborted(err))
}

func TestUpgradeBlockedByOtherReader(t *testing.T) {
	lm := testLockManager()
	pid := common.PageID{Table: 1, PageNum: 0}

	t1 := NewTransactionID()
	t2 := NewTransactionID()
	require.NoError(t, lm.Acquire(t1, pid, ReadOnly))
	require.NoError(t, lm.Acquire(t2, pid, ReadOnly))

	err := lm.Acquire(t1, pid, ReadWrite)
	assert.True(t, common.IsTransactionAborted(err), "cannot upgrade while another holder is present")
}

func TestReleaseWakesWaiter(t *testing.T) {
	lm := NewLockManager(200*time.Millisecond, 500*time.Millisecond)
	pid := common.PageID{Table: 1, PageNum: 0}

	t1 := NewTransactionID()
	t2 := NewTransactionID()
	require.NoError(t, lm.Acquire(t1, pid, ReadWrite))

	var wg sync.WaitGroup
	wg.Add(1)
	var waiterErr error
	go func() {
		defer wg.Done()
		waiterErr = lm.Acquire(t2, pid, ReadWrite)
	}()

	time.Sleep(10 * time.Millisecond)
	lm.ReleaseAll(t1)
	wg.Wait()

	require.NoError(t, waiterErr)
	assert.True(t, lm.HoldsLock(t2, pid))
	assert.False(t, lm.HoldsLock(t1, pid))
}

func TestReleaseAll(t *testing.T) {
	lm := testLockManager()
	tid := NewTransactionID()
	pids := []common.PageID{
		{Table: 1, PageNum: 0},
		{Table: 1, PageNum: 1},
		{Table: 2, PageNum: 0},
	}
	for _, pid := range pids {
		require.NoError(t, lm.Acquire(tid, pid, ReadWrite))
	}
	lm.ReleaseAll(tid)
	for _, pid := range pids {
		assert.False(t, lm.HoldsLock(tid, pid))
	}
}
