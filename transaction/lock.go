package transaction

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/simpledb/common"
)

// Default lock-wait deadlines. The two are deliberately asymmetric so that
// writers out-wait readers: a reader colliding with a long-held exclusive
// lock gives up quickly, while a writer keeps trying long enough for a burst
// of shared holders to drain.
const (
	DefaultSharedTimeout    = 100 * time.Millisecond
	DefaultExclusiveTimeout = 1000 * time.Millisecond
)

// lockPollInterval is how long a blocked request sleeps between grant
// attempts.
const lockPollInterval = 500 * time.Microsecond

type lockState int

const (
	noLock lockState = iota
	sharedLock
	exclusiveLock
)

func (s lockState) String() string {
	switch s {
	case noLock:
		return "NO_LOCK"
	case sharedLock:
		return "SHARED"
	case exclusiveLock:
		return "EXCLUSIVE"
	}
	return "unknown"
}

// pageLock is one entry in the lock table. The holder set is non-empty
// exactly when state is not noLock: sharers for a shared lock, owner for an
// exclusive one.
type pageLock struct {
	mu      sync.Mutex
	state   lockState
	owner   common.TransactionID
	sharers map[common.TransactionID]struct{}
}

func newPageLock() *pageLock {
	return &pageLock{sharers: make(map[common.TransactionID]struct{})}
}

// tryShared attempts a shared grant. Re-requests by a holder are
// idempotent; an exclusive holder is already stronger and is granted as-is.
func (l *pageLock) tryShared(tid common.TransactionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case noLock:
		l.state = sharedLock
		l.sharers[tid] = struct{}{}
		return true
	case sharedLock:
		l.sharers[tid] = struct{}{}
		return true
	case exclusiveLock:
		return l.owner == tid
	}
	panic("corrupt lock state")
}

// tryExclusive attempts an exclusive grant, upgrading in place when tid is
// the sole shared holder.
func (l *pageLock) tryExclusive(tid common.TransactionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case noLock:
		l.state = exclusiveLock
		l.owner = tid
		return true
	case exclusiveLock:
		return l.owner == tid
	case sharedLock:
		if _, ok := l.sharers[tid]; ok && len(l.sharers) == 1 {
			delete(l.sharers, tid)
			l.state = exclusiveLock
			l.owner = tid
			return true
		}
		return false
	}
	panic("corrupt lock state")
}

func (l *pageLock) holds(tid common.TransactionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case sharedLock:
		_, ok := l.sharers[tid]
		return ok
	case exclusiveLock:
		return l.owner == tid
	}
	return false
}

func (l *pageLock) release(tid common.TransactionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case sharedLock:
		delete(l.sharers, tid)
		if len(l.sharers) == 0 {
			l.state = noLock
		}
	case exclusiveLock:
		if l.owner == tid {
			l.state = noLock
			l.owner = common.InvalidTransactionID
		}
	}
}

// LockManager grants per-page shared and exclusive locks under strict
// two-phase locking. There is no waits-for graph: deadlock resolution is
// timeout-based abort, surfaced as TransactionAborted from Acquire. The
// caller's contract is to complete the aborted transaction with
// commit=false; locks are never torn down implicitly.
type LockManager struct {
	locks *xsync.MapOf[common.PageID, *pageLock]

	// Grant attempts are serialized per request class. Separate monitors
	// keep shared requests from queueing behind blocked writers.
	xMu sync.Mutex
	sMu sync.Mutex

	sharedTimeout    time.Duration
	exclusiveTimeout time.Duration
}

// NewLockManager builds a lock manager with the given wait deadlines.
// Non-positive durations fall back to the defaults.
func NewLockManager(sharedTimeout, exclusiveTimeout time.Duration) *LockManager {
	if sharedTimeout <= 0 {
		sharedTimeout = DefaultSharedTimeout
	}
	if exclusiveTimeout <= 0 {
		exclusiveTimeout = DefaultExclusiveTimeout
	}
	return &LockManager{
		locks:            xsync.NewMapOf[common.PageID, *pageLock](),
		sharedTimeout:    sharedTimeout,
		exclusiveTimeout: exclusiveTimeout,
	}
}

func (lm *LockManager) entry(pid common.PageID) *pageLock {
	if l, ok := lm.locks.Load(pid); ok {
		return l
	}
	l, _ := lm.locks.LoadOrStore(pid, newPageLock())
	return l
}

// Acquire blocks until tid holds a lock of the requested strength on pid, or
// the class deadline passes, in which case it fails with TransactionAborted
// and leaves the lock table untouched.
func (lm *LockManager) Acquire(tid common.TransactionID, pid common.PageID, perm Permissions) error {
	timeout := lm.sharedTimeout
	if perm == ReadWrite {
		timeout = lm.exclusiveTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if lm.tryAcquire(tid, pid, perm) {
			return nil
		}
		if time.Now().After(deadline) {
			return common.NewTransactionAborted(
				"transaction %d timed out waiting for %s on %s", tid, perm, pid)
		}
		time.Sleep(lockPollInterval)
	}
}

func (lm *LockManager) tryAcquire(tid common.TransactionID, pid common.PageID, perm Permissions) bool {
	if perm == ReadWrite {
		lm.xMu.Lock()
		defer lm.xMu.Unlock()
		return lm.entry(pid).tryExclusive(tid)
	}
	lm.sMu.Lock()
	defer lm.sMu.Unlock()
	return lm.entry(pid).tryShared(tid)
}

// HoldsLock reports whether tid is in the shared-holder set or is the
// exclusive holder of pid.
func (lm *LockManager) HoldsLock(tid common.TransactionID, pid common.PageID) bool {
	l, ok := lm.locks.Load(pid)
	return ok && l.holds(tid)
}

// Release drops tid's lock on a single page. A shared lock whose holder set
// empties transitions to unlocked.
func (lm *LockManager) Release(tid common.TransactionID, pid common.PageID) {
	if l, ok := lm.locks.Load(pid); ok {
		l.release(tid)
	}
}

// ReleaseAll drops every lock tid holds. Called exactly once per
// transaction, at completion.
func (lm *LockManager) ReleaseAll(tid common.TransactionID) {
	lm.locks.Range(func(_ common.PageID, l *pageLock) bool {
		l.release(tid)
		return true
	})
}
