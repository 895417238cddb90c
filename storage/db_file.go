package storage

import (
	"mit.edu/dsg/simpledb/common"
)

// DbFile abstracts the physical file backing one table. It handles
// page-level reads and writes plus tuple-level mutation; tuple mutation and
// iteration route their page accesses through the buffer pool handed in by
// the caller, so every access is covered by the lock table.
//
// HeapFile is the only implementation today.
type DbFile interface {
	// ID returns the table id: a stable hash of the file's absolute path.
	ID() int32
	// TupleDesc returns the schema of the file's tuples.
	TupleDesc() *TupleDesc
	// ReadPage reads one page directly from disk, bypassing the buffer pool.
	// Fails with InvalidArgument when the page number is past the end.
	ReadPage(pid common.PageID) (Page, error)
	// WritePage overwrites one page on disk. Write-through: the bytes are
	// synced before it returns.
	WritePage(p Page) error
	// NumPages returns the number of whole pages in the file.
	NumPages() (int, error)
	// InsertTuple adds the tuple to the first page with a free slot,
	// appending a fresh page when every existing one is full. Pages are
	// acquired READ_WRITE through the pool. Returns the dirtied pages for
	// the caller to mark and cache.
	InsertTuple(tid common.TransactionID, t *Tuple, pool *BufferPool) ([]Page, error)
	// DeleteTuple tombstones the tuple's slot, acquiring its page
	// READ_WRITE through the pool. Returns the dirtied pages.
	DeleteTuple(tid common.TransactionID, t *Tuple, pool *BufferPool) ([]Page, error)
	// Iterator yields every live tuple in page order, acquiring each page
	// READ_ONLY through the pool.
	Iterator(tid common.TransactionID, pool *BufferPool) Iterator
	// Close releases the underlying file handle.
	Close() error
}

// Iterator is a restartable lazy sequence of tuples.
//
// Usage: Open, then Next until it returns false, reading Current after each
// true. A false Next means either exhaustion or failure; Error
// distinguishes. Rewind restarts the sequence from the top; cancellation is
// just Close (or dropping the iterator).
type Iterator interface {
	Open() error
	Next() bool
	Current() *Tuple
	Error() error
	Rewind() error
	Close() error
}
