package storage

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/logging"
	"mit.edu/dsg/simpledb/transaction"
)

// TableSource resolves a table id to its backing file. Implemented by the
// catalog; injected so tests can stand up a pool with a stub.
type TableSource interface {
	DatabaseFile(table int32) (DbFile, error)
}

// BufferPool is the bounded page cache and the gatekeeper for every locked
// page access. Access methods call GetPage to retrieve pages; the pool
// acquires the matching lock, faults the page in from its heap file, and
// evicts a clean victim when the cache is at capacity.
//
// Policies: NO STEAL (a dirty page of a live transaction is never evicted or
// written back, the checkpoint path excepted) and FORCE (a committing
// transaction's dirty pages are all flushed before its COMMIT record is
// forced).
//
// The embedded mutex is the buffer-pool monitor. The log acquires it before
// its own monitor on the abort, checkpoint, and recovery paths; the flush
// path here holds it while appending to the log. Buffer pool before log,
// never the reverse.
type BufferPool struct {
	sync.Mutex

	numPages int
	pages    *xsync.MapOf[common.PageID, Page]
	locks    *transaction.LockManager
	tables   TableSource
	log      *logging.LogFile
}

// NewBufferPool creates a pool caching at most numPages pages. Attach the
// write-ahead log with SetLog before the first mutation; a pool without a
// log skips WAL records, which only tests want.
func NewBufferPool(numPages int, tables TableSource, locks *transaction.LockManager) *BufferPool {
	common.Assert(numPages > 0, "buffer pool needs at least one page")
	return &BufferPool{
		numPages: numPages,
		pages:    xsync.NewMapOf[common.PageID, Page](),
		locks:    locks,
		tables:   tables,
	}
}

// SetLog wires in the write-ahead log. Separate from the constructor because
// the log's recovery side needs the pool first.
func (bp *BufferPool) SetLog(lf *logging.LogFile) {
	bp.log = lf
}

// GetPage retrieves the page with the requested permissions, blocking until
// the matching lock is granted or its deadline aborts the transaction. A
// cached page is returned as-is; otherwise a clean victim is evicted as
// needed and the page is faulted in from its heap file.
func (bp *BufferPool) GetPage(tid common.TransactionID, pid common.PageID, perm transaction.Permissions) (Page, error) {
	if err := bp.locks.Acquire(tid, pid, perm); err != nil {
		return nil, err
	}
	if p, ok := bp.pages.Load(pid); ok {
		return p, nil
	}

	bp.Lock()
	defer bp.Unlock()
	// Another thread may have faulted it in while we waited for the monitor.
	if p, ok := bp.pages.Load(pid); ok {
		return p, nil
	}
	file, err := bp.tables.DatabaseFile(pid.Table)
	if err != nil {
		return nil, err
	}
	for bp.pages.Size() >= bp.numPages {
		if err := bp.evictPage(); err != nil {
			return nil, err
		}
	}
	p, err := file.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	bp.pages.Store(pid, p)
	return p, nil
}

// evictPage removes one clean page from the cache. NO STEAL: when every
// cached page is dirty the pool is stuck and the operation fails. Caller
// holds the monitor.
func (bp *BufferPool) evictPage() error {
	var victim common.PageID
	found := false
	bp.pages.Range(func(pid common.PageID, p Page) bool {
		if p.Dirtier() == common.InvalidTransactionID {
			victim = pid
			found = true
			return false
		}
		return true
	})
	if !found {
		return common.DBError{Code: common.StorageError, ErrString: "all pages are dirty in buffer pool"}
	}
	bp.pages.Delete(victim)
	return nil
}

// ReleasePage drops tid's lock on a page without touching the cache.
// Calling this mid-transaction breaks two-phase locking; it exists for
// internal cleanup paths that know a page went unread.
func (bp *BufferPool) ReleasePage(tid common.TransactionID, pid common.PageID) {
	bp.locks.Release(tid, pid)
}

// HoldsLock reports whether tid holds any lock on the page.
func (bp *BufferPool) HoldsLock(tid common.TransactionID, pid common.PageID) bool {
	return bp.locks.HoldsLock(tid, pid)
}

// InsertTuple routes the insert to the owning heap file, then marks and
// caches each dirtied page so future requests see the mutation.
func (bp *BufferPool) InsertTuple(tid common.TransactionID, table int32, t *Tuple) error {
	file, err := bp.tables.DatabaseFile(table)
	if err != nil {
		return err
	}
	dirty, err := file.InsertTuple(tid, t, bp)
	if err != nil {
		return err
	}
	bp.Lock()
	defer bp.Unlock()
	for _, p := range dirty {
		p.MarkDirty(true, tid)
		bp.pages.Store(p.ID(), p)
	}
	return nil
}

// DeleteTuple routes the delete to the owning heap file, symmetric to
// InsertTuple.
func (bp *BufferPool) DeleteTuple(tid common.TransactionID, t *Tuple) error {
	rid, ok := t.RecordID()
	if !ok {
		return common.DBError{Code: common.InvalidArgumentError, ErrString: "tuple has no record id"}
	}
	file, err := bp.tables.DatabaseFile(rid.Table)
	if err != nil {
		return err
	}
	dirty, err := file.DeleteTuple(tid, t, bp)
	if err != nil {
		return err
	}
	bp.Lock()
	defer bp.Unlock()
	for _, p := range dirty {
		p.MarkDirty(true, tid)
		bp.pages.Store(p.ID(), p)
	}
	return nil
}

// dirtyPagesOf collects tid's dirty pages in page-id order. Caller holds the
// monitor.
func (bp *BufferPool) dirtyPagesOf(tid common.TransactionID) []common.PageID {
	var pids []common.PageID
	bp.pages.Range(func(pid common.PageID, p Page) bool {
		if p.Dirtier() == tid {
			pids = append(pids, pid)
		}
		return true
	})
	sort.Slice(pids, func(i, j int) bool { return pids[i].Less(pids[j]) })
	return pids
}

// TransactionComplete commits or aborts tid's buffered work and releases
// every lock it holds.
//
// Commit (FORCE): each dirty page is flushed (UPDATE record, log force,
// page write) and its current content becomes the before-image for the next
// transaction. The caller appends the COMMIT record afterwards.
//
// Abort: each dirty page is discarded and the on-disk version reloaded. The
// caller has already run the log's rollback if the transaction logged a
// BEGIN.
func (bp *BufferPool) TransactionComplete(tid common.TransactionID, commit bool) error {
	bp.Lock()
	defer bp.Unlock()

	for _, pid := range bp.dirtyPagesOf(tid) {
		if commit {
			if err := bp.flushPage(pid); err != nil {
				return err
			}
			if p, ok := bp.pages.Load(pid); ok {
				p.SetBeforeImage()
			}
		} else {
			bp.pages.Delete(pid)
			file, err := bp.tables.DatabaseFile(pid.Table)
			if err != nil {
				return err
			}
			p, err := file.ReadPage(pid)
			if err != nil {
				return err
			}
			bp.pages.Store(pid, p)
		}
	}

	bp.locks.ReleaseAll(tid)
	return nil
}

// flushPage writes one dirty page through the WAL to its heap file: UPDATE
// record first, log forced, then the page itself, then the dirty marker
// clears. A clean or absent page is a no-op. Caller holds the monitor.
func (bp *BufferPool) flushPage(pid common.PageID) error {
	p, ok := bp.pages.Load(pid)
	if !ok {
		return nil
	}
	tid := p.Dirtier()
	if tid == common.InvalidTransactionID {
		return nil
	}
	if bp.log != nil {
		if err := bp.log.LogWrite(tid, bp.imageOf(p.BeforeImage()), bp.imageOf(p)); err != nil {
			return err
		}
		if err := bp.log.Force(); err != nil {
			return err
		}
	}
	file, err := bp.tables.DatabaseFile(pid.Table)
	if err != nil {
		return err
	}
	if err := file.WritePage(p); err != nil {
		return err
	}
	p.MarkDirty(false, common.InvalidTransactionID)
	return nil
}

// FlushPage is the monitor-taking wrapper around flushPage.
func (bp *BufferPool) FlushPage(pid common.PageID) error {
	bp.Lock()
	defer bp.Unlock()
	return bp.flushPage(pid)
}

func (bp *BufferPool) imageOf(p Page) *logging.PageImage {
	data := append([]byte(nil), p.Data()...)
	return &logging.PageImage{
		PageClass: p.PageClass(),
		IDClass:   PageIDClass,
		IDArgs:    p.ID().Serialize(),
		Data:      data,
	}
}

// FlushAllPages writes every dirty page through the WAL to disk, whoever
// owns it. This breaks NO STEAL on purpose: the checkpoint is its only
// legitimate caller, and the caller holds the monitor.
func (bp *BufferPool) FlushAllPages() error {
	var pids []common.PageID
	bp.pages.Range(func(pid common.PageID, p Page) bool {
		if p.Dirtier() != common.InvalidTransactionID {
			pids = append(pids, pid)
		}
		return true
	})
	sort.Slice(pids, func(i, j int) bool { return pids[i].Less(pids[j]) })
	for _, pid := range pids {
		if err := bp.flushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage removes a page from the cache without writing it. Recovery and
// rollback use it to drop stale after-images; callers hold the monitor.
func (bp *BufferPool) DiscardPage(pid common.PageID) {
	bp.pages.Delete(pid)
}

// InstallPage decodes a logged page image through the registry and caches it
// in place of any resident copy. A non-invalid dirtier marks it dirty under
// that transaction, which is how rollback hands restored pages to the abort
// completion. Caller holds the monitor.
func (bp *BufferPool) InstallPage(img *logging.PageImage, dirtier common.TransactionID) error {
	p, err := NewPageFromImage(img.PageClass, img.IDArgs, img.Data)
	if err != nil {
		return err
	}
	if dirtier != common.InvalidTransactionID {
		p.MarkDirty(true, dirtier)
	}
	bp.pages.Store(p.ID(), p)
	return nil
}

// WriteBack decodes a logged page image and writes it straight to its heap
// file, bypassing the WAL; the image is already durable in the log.
// Recovery and rollback only. Caller holds the monitor.
func (bp *BufferPool) WriteBack(img *logging.PageImage) error {
	p, err := NewPageFromImage(img.PageClass, img.IDArgs, img.Data)
	if err != nil {
		return err
	}
	file, err := bp.tables.DatabaseFile(p.ID().Table)
	if err != nil {
		return err
	}
	return file.WritePage(p)
}

// NumCached reports how many pages are resident. Tests and eviction
// diagnostics.
func (bp *BufferPool) NumCached() int {
	return bp.pages.Size()
}
