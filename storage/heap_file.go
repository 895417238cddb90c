package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/transaction"
)

// HeapFile stores one table as a sequence of fixed-size heap pages. The file
// length is always a whole number of pages; allocation appends a zeroed page
// under allocMu and writes it through before anyone can lock it.
type HeapFile struct {
	file *os.File
	path string
	id   int32
	td   *TupleDesc

	// allocMu serializes file growth so two inserts cannot claim the same
	// fresh page number.
	allocMu sync.Mutex
}

// NewHeapFile opens or creates the heap file at path. The table id is a
// stable hash of the absolute path, so reopening the same file yields the
// same id across runs.
func NewHeapFile(path string, td *TupleDesc) (*HeapFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size()%int64(common.PageSize()) != 0 {
		f.Close()
		return nil, common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("%s length %d is not a multiple of the page size", abs, stat.Size())}
	}
	return &HeapFile{
		file: f,
		path: abs,
		id:   int32(common.Hash([]byte(abs))),
		td:   td,
	}, nil
}

func (f *HeapFile) ID() int32 {
	return f.id
}

func (f *HeapFile) TupleDesc() *TupleDesc {
	return f.td
}

// NumPages returns the number of whole pages in the file.
func (f *HeapFile) NumPages() (int, error) {
	stat, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return int(stat.Size() / int64(common.PageSize())), nil
}

// ReadPage reads the page's bytes off disk and constructs a HeapPage.
func (f *HeapFile) ReadPage(pid common.PageID) (Page, error) {
	common.Assert(pid.Table == f.id, "page %s does not belong to table %d", pid, f.id)
	n, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	if pid.PageNum < 0 || int(pid.PageNum) >= n {
		return nil, common.DBError{Code: common.InvalidArgumentError, ErrString: fmt.Sprintf("%s out of range: file has %d pages", pid, n)}
	}
	data := make([]byte, common.PageSize())
	if _, err := f.file.ReadAt(data, int64(pid.PageNum)*int64(common.PageSize())); err != nil {
		return nil, err
	}
	return NewHeapPage(pid, data, f.td)
}

// WritePage overwrites the page's bytes on disk and syncs. The page is
// written whole or not at all; partial writes never survive the sync.
func (f *HeapFile) WritePage(p Page) error {
	pid := p.ID()
	common.Assert(pid.Table == f.id, "page %s does not belong to table %d", pid, f.id)
	n, err := f.NumPages()
	if err != nil {
		return err
	}
	if pid.PageNum < 0 || int(pid.PageNum) >= n {
		return common.DBError{Code: common.InvalidArgumentError, ErrString: fmt.Sprintf("cannot write %s: file has %d pages", pid, n)}
	}
	if _, err := f.file.WriteAt(p.Data(), int64(pid.PageNum)*int64(common.PageSize())); err != nil {
		return err
	}
	return f.file.Sync()
}

// appendEmptyPage grows the file by one zeroed page and returns its number.
// The page reaches disk before this returns, so an abort's discard-and-
// reload sees it.
func (f *HeapFile) appendEmptyPage() (int, error) {
	f.allocMu.Lock()
	defer f.allocMu.Unlock()
	n, err := f.NumPages()
	if err != nil {
		return 0, err
	}
	if _, err := f.file.WriteAt(EmptyHeapPageData(), int64(n)*int64(common.PageSize())); err != nil {
		return 0, err
	}
	if err := f.file.Sync(); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertTuple places the tuple on the first page with a free slot, acquiring
// each candidate READ_WRITE; when every page is full it appends a fresh one.
// Returns the single dirtied page.
func (f *HeapFile) InsertTuple(tid common.TransactionID, t *Tuple, pool *BufferPool) ([]Page, error) {
	if !t.Desc().Equals(f.td) {
		return nil, common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("schema mismatch inserting into table %d: %s vs %s", f.id, t.Desc(), f.td)}
	}
	n, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		pg, err := pool.GetPage(tid, common.PageID{Table: f.id, PageNum: int32(i)}, transaction.ReadWrite)
		if err != nil {
			return nil, err
		}
		hp, ok := pg.(*HeapPage)
		common.Assert(ok, "table %d holds a non-heap page", f.id)
		if !hp.HasFreeSlot() {
			continue
		}
		if err := hp.InsertTuple(t); err != nil {
			return nil, err
		}
		return []Page{hp}, nil
	}

	pageNum, err := f.appendEmptyPage()
	if err != nil {
		return nil, err
	}
	pg, err := pool.GetPage(tid, common.PageID{Table: f.id, PageNum: int32(pageNum)}, transaction.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := pg.(*HeapPage)
	if err := hp.InsertTuple(t); err != nil {
		return nil, err
	}
	return []Page{hp}, nil
}

// DeleteTuple tombstones the tuple's slot under an exclusive page lock.
// Returns the single dirtied page.
func (f *HeapFile) DeleteTuple(tid common.TransactionID, t *Tuple, pool *BufferPool) ([]Page, error) {
	rid, ok := t.RecordID()
	if !ok || rid.Table != f.id {
		return nil, common.DBError{Code: common.InvalidArgumentError, ErrString: fmt.Sprintf("tuple is not resident in table %d", f.id)}
	}
	pg, err := pool.GetPage(tid, rid.PageID, transaction.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp, ok := pg.(*HeapPage)
	common.Assert(ok, "table %d holds a non-heap page", f.id)
	if err := hp.DeleteTuple(t); err != nil {
		return nil, err
	}
	return []Page{hp}, nil
}

// Iterator yields every live tuple in (page, slot) order. Page counts are
// re-read as the scan advances, so pages the same transaction appends
// mid-scan are picked up; other transactions cannot grow the file under us
// while we hold page locks, per 2PL.
func (f *HeapFile) Iterator(tid common.TransactionID, pool *BufferPool) Iterator {
	return &heapFileIterator{f: f, tid: tid, pool: pool}
}

// Close releases the file handle.
func (f *HeapFile) Close() error {
	return f.file.Close()
}

type heapFileIterator struct {
	f    *HeapFile
	tid  common.TransactionID
	pool *BufferPool

	opened  bool
	pageNum int
	page    *HeapPage
	slot    int
	cur     *Tuple
	err     error
}

func (it *heapFileIterator) Open() error {
	it.opened = true
	it.pageNum = 0
	it.page = nil
	it.slot = 0
	it.cur = nil
	it.err = nil
	return nil
}

func (it *heapFileIterator) Next() bool {
	if !it.opened || it.err != nil {
		return false
	}
	for {
		if it.page == nil {
			n, err := it.f.NumPages()
			if err != nil {
				it.err = err
				return false
			}
			if it.pageNum >= n {
				return false
			}
			pg, err := it.pool.GetPage(it.tid,
				common.PageID{Table: it.f.id, PageNum: int32(it.pageNum)}, transaction.ReadOnly)
			if err != nil {
				it.err = err
				return false
			}
			hp, ok := pg.(*HeapPage)
			common.Assert(ok, "table %d holds a non-heap page", it.f.id)
			it.page = hp
			it.slot = 0
		}
		for it.slot < it.page.NumSlots() {
			s := it.slot
			it.slot++
			if it.page.SlotUsed(s) {
				it.cur = it.page.TupleAt(s)
				return true
			}
		}
		it.page = nil
		it.pageNum++
	}
}

func (it *heapFileIterator) Current() *Tuple {
	return it.cur
}

func (it *heapFileIterator) Error() error {
	return it.err
}

func (it *heapFileIterator) Rewind() error {
	if !it.opened {
		return common.DBError{Code: common.InvalidArgumentError, ErrString: "rewinding a closed iterator"}
	}
	it.pageNum = 0
	it.page = nil
	it.slot = 0
	it.cur = nil
	it.err = nil
	return nil
}

func (it *heapFileIterator) Close() error {
	it.opened = false
	it.page = nil
	it.cur = nil
	return nil
}
