package logging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/btree"
	"mit.edu/dsg/simpledb/common"
)

// PageStore is the buffer-pool surface the log drives during abort,
// checkpoint, and recovery. Lock order is always page store first, then the
// log's own monitor; the non-Locker methods assume the caller holds Lock().
type PageStore interface {
	sync.Locker
	// FlushAllPages force-writes every dirty cached page through the WAL to
	// its heap file.
	FlushAllPages() error
	// DiscardPage drops a page from the cache without writing it.
	DiscardPage(pid common.PageID)
	// InstallPage decodes an image and caches it, replacing any resident
	// copy. A non-invalid dirtier marks the installed page dirty under that
	// transaction.
	InstallPage(img *PageImage, dirtier common.TransactionID) error
	// WriteBack decodes an image and writes it straight to its heap file,
	// bypassing the WAL. Recovery only.
	WriteBack(img *PageImage) error
}

// activeTxn is one entry of the live-transaction table: a transaction and
// the file offset of its BEGIN record.
type activeTxn struct {
	tid         common.TransactionID
	firstOffset int64
}

func lessByTID(a, b activeTxn) bool {
	return a.tid < b.tid
}

// LogFile is the append-only write-ahead log.
//
// Layout: an 8-byte big-endian header holding the offset of the most recent
// CHECKPOINT record (or -1), followed by framed records (see LogRecordType).
//
// Locking: lf.mu protects the file handle, currentOffset, and the active
// table. Operations that also touch the buffer pool (abort, checkpoint,
// recovery) take the store's monitor first; the flush path inside the pool
// takes the pool monitor and then calls in here. Buffer pool before log,
// never the reverse.
type LogFile struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	store PageStore

	currentOffset int64
	totalRecords  int

	// Until the first append or recovery we do not know whether the caller
	// wants the existing log contents; the first append discards them.
	recoveryUndecided bool

	// active orders live transactions by tid, giving checkpoints a
	// deterministic payload and truncation a single ascending scan.
	active *btree.BTreeG[activeTxn]
}

// OpenLogFile opens or creates the write-ahead log at path, backed by the
// given page store. A brand-new log gets its no-checkpoint header
// immediately.
func OpenLogFile(path string, store PageStore) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	lf := &LogFile{
		file:              f,
		path:              path,
		store:             store,
		recoveryUndecided: true,
		active:            btree.NewBTreeG(lessByTID),
	}
	if stat.Size() < logHeaderSize {
		if err := lf.writeHeader(NoCheckpoint); err != nil {
			f.Close()
			return nil, err
		}
		lf.currentOffset = logHeaderSize
	} else {
		lf.currentOffset = stat.Size()
	}
	return lf, nil
}

func (lf *LogFile) writeHeader(cpOffset int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(cpOffset))
	_, err := lf.file.WriteAt(buf[:], 0)
	return err
}

func (lf *LogFile) readHeader() (int64, error) {
	r := logReader{f: lf.file}
	return r.readInt64()
}

// preAppend runs before every record write. The first append decides that
// the caller is not going to recover, so any stale log contents are thrown
// out.
func (lf *LogFile) preAppend() error {
	if lf.recoveryUndecided {
		lf.recoveryUndecided = false
		if err := lf.file.Truncate(0); err != nil {
			return err
		}
		if err := lf.writeHeader(NoCheckpoint); err != nil {
			return err
		}
		lf.currentOffset = logHeaderSize
	}
	return nil
}

func (lf *LogFile) append(buf []byte) error {
	if _, err := lf.file.WriteAt(buf, lf.currentOffset); err != nil {
		return err
	}
	lf.currentOffset += int64(len(buf))
	return nil
}

// appendRecord frames and appends one record whose start offset is the
// current tail.
func (lf *LogFile) appendRecord(t LogRecordType, tid int64, payload func(*bytes.Buffer)) (start int64, err error) {
	start = lf.currentOffset
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(t))
	binary.Write(&buf, binary.BigEndian, tid)
	if payload != nil {
		payload(&buf)
	}
	binary.Write(&buf, binary.BigEndian, start)
	if err = lf.append(buf.Bytes()); err != nil {
		return 0, err
	}
	lf.totalRecords++
	return start, nil
}

// TotalRecords reports how many records have been appended in this process.
func (lf *LogFile) TotalRecords() int {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.totalRecords
}

// CurrentOffset reports the tail of the log.
func (lf *LogFile) CurrentOffset() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.currentOffset
}

// Active reports whether tid has a BEGIN record and no COMMIT/ABORT yet.
func (lf *LogFile) Active(tid common.TransactionID) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	_, ok := lf.active.Get(activeTxn{tid: tid})
	return ok
}

// Force flushes all appended records to stable storage.
func (lf *LogFile) Force() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.file.Sync()
}

func (lf *LogFile) forceLocked() error {
	return lf.file.Sync()
}

// LogBegin appends a BEGIN record and registers tid in the active table.
// A second BEGIN for a live transaction is an error.
func (lf *LogFile) LogBegin(tid common.TransactionID) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if _, ok := lf.active.Get(activeTxn{tid: tid}); ok {
		return common.DBError{Code: common.LogError, ErrString: fmt.Sprintf("double BEGIN for transaction %d", tid)}
	}
	if err := lf.preAppend(); err != nil {
		return err
	}
	start, err := lf.appendRecord(BeginRecord, int64(tid), nil)
	if err != nil {
		return err
	}
	lf.active.Set(activeTxn{tid: tid, firstOffset: start})
	return nil
}

// LogWrite appends an UPDATE record carrying the page's before- and
// after-images. The caller must hold the exclusive lock on the page; the
// record is not forced here; FlushPage forces the log before the page
// write, which is what the WAL invariant actually requires.
func (lf *LogFile) LogWrite(tid common.TransactionID, before, after *PageImage) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.preAppend(); err != nil {
		return err
	}
	_, err := lf.appendRecord(UpdateRecord, int64(tid), func(buf *bytes.Buffer) {
		before.encodeTo(buf)
		after.encodeTo(buf)
	})
	return err
}

// LogCommit appends a COMMIT record, forces the log, and retires tid from
// the active table. The buffer pool has already flushed the transaction's
// pages (FORCE policy) by the time this runs.
func (lf *LogFile) LogCommit(tid common.TransactionID) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.preAppend(); err != nil {
		return err
	}
	if _, err := lf.appendRecord(CommitRecord, int64(tid), nil); err != nil {
		return err
	}
	if err := lf.forceLocked(); err != nil {
		return err
	}
	lf.active.Delete(activeTxn{tid: tid})
	return nil
}

// LogAbort rolls tid back, then appends an ABORT record, forces, and retires
// the transaction. Takes the page-store monitor before the log monitor
// because rollback installs before-images into the pool.
func (lf *LogFile) LogAbort(tid common.TransactionID) error {
	lf.store.Lock()
	defer lf.store.Unlock()
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if err := lf.preAppend(); err != nil {
		return err
	}
	if err := lf.rollback(tid); err != nil {
		return err
	}
	if _, err := lf.appendRecord(AbortRecord, int64(tid), nil); err != nil {
		return err
	}
	if err := lf.forceLocked(); err != nil {
		return err
	}
	lf.active.Delete(activeTxn{tid: tid})
	return nil
}

// Rollback restores the before-image of every page tid updated, walking the
// log backward from the tail via the trailing start-offset pointers. The
// restored pages land in the buffer pool marked dirty under tid, so a
// subsequent abort completion discards them and reloads clean copies.
func (lf *LogFile) Rollback(tid common.TransactionID) error {
	lf.store.Lock()
	defer lf.store.Unlock()
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.preAppend(); err != nil {
		return err
	}
	return lf.rollback(tid)
}

func (lf *LogFile) rollback(tid common.TransactionID) error {
	entry, ok := lf.active.Get(activeTxn{tid: tid})
	if !ok {
		return common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("transaction %d is not live; cannot roll back", tid)}
	}

	offset := lf.currentOffset
	for offset > entry.firstOffset {
		tail := logReader{f: lf.file, off: offset - 8}
		start, err := tail.readInt64()
		if err != nil {
			return err
		}
		r := logReader{f: lf.file, off: start}
		recType, err := r.readInt32()
		if err != nil {
			return err
		}
		recTID, err := r.readInt64()
		if err != nil {
			return err
		}
		if LogRecordType(recType) == UpdateRecord {
			before, err := r.readImage()
			if err != nil {
				return err
			}
			after, err := r.readImage()
			if err != nil {
				return err
			}
			if common.TransactionID(recTID) == tid {
				pid, err := after.PageID()
				if err != nil {
					return err
				}
				lf.store.DiscardPage(pid)
				if err := lf.store.InstallPage(before, tid); err != nil {
					return err
				}
				// A checkpoint may have pushed this page's uncommitted
				// after-image to its heap file; the disk copy has to revert
				// too, or the abort completion will reload stale bytes.
				if err := lf.store.WriteBack(before); err != nil {
					return err
				}
				log.WithFields(log.Fields{"tid": tid, "page": pid}).Debug("rolled back page")
			}
		}
		offset = start
	}
	return nil
}

// LogCheckpoint forces the buffer pool, writes a CHECKPOINT record carrying
// the live-transaction table, repoints the header at it, and truncates the
// prefix no recovery will ever need.
func (lf *LogFile) LogCheckpoint() error {
	lf.store.Lock()
	defer lf.store.Unlock()

	// The pool's flush path re-enters the log for each UPDATE record, so the
	// pages go out before the log monitor is taken. The store monitor keeps
	// every competing flush and completion path out for the duration.
	if err := lf.store.FlushAllPages(); err != nil {
		return err
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.preAppend(); err != nil {
		return err
	}
	if err := lf.forceLocked(); err != nil {
		return err
	}
	cpStart, err := lf.appendRecord(CheckpointRecord, checkpointTID, func(buf *bytes.Buffer) {
		binary.Write(buf, binary.BigEndian, int32(lf.active.Len()))
		lf.active.Scan(func(e activeTxn) bool {
			binary.Write(buf, binary.BigEndian, int64(e.tid))
			binary.Write(buf, binary.BigEndian, e.firstOffset)
			return true
		})
	})
	if err != nil {
		return err
	}
	if err := lf.writeHeader(cpStart); err != nil {
		return err
	}
	if err := lf.forceLocked(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"offset": cpStart, "active": lf.active.Len()}).Info("checkpoint written")
	return lf.truncate()
}

// LogTruncate discards the log prefix that no live transaction and no
// recovery can reach, rewriting the surviving records into a fresh file with
// adjusted offsets.
func (lf *LogFile) LogTruncate() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.truncate()
}

func (lf *LogFile) truncate() error {
	cpOffset, err := lf.readHeader()
	if err != nil {
		return err
	}
	if cpOffset == NoCheckpoint {
		// The header must keep pointing at a valid checkpoint; without one
		// there is nothing we can safely cut.
		return nil
	}

	minRecord := cpOffset
	r := logReader{f: lf.file, off: cpOffset}
	recType, err := r.readInt32()
	if err != nil {
		return err
	}
	common.Assert(LogRecordType(recType) == CheckpointRecord,
		"log header points at a %s record, not a checkpoint", LogRecordType(recType))
	if _, err := r.readInt64(); err != nil { // checkpoint tid slot
		return err
	}
	count, err := r.readInt32()
	if err != nil {
		return err
	}
	for i := int32(0); i < count; i++ {
		if _, err := r.readInt64(); err != nil {
			return err
		}
		first, err := r.readInt64()
		if err != nil {
			return err
		}
		if first < minRecord {
			minRecord = first
		}
	}

	oldLength := lf.currentOffset
	tmp, err := os.CreateTemp(filepath.Dir(lf.path), "logtmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	shift := minRecord - logHeaderSize
	var head [8]byte
	binary.BigEndian.PutUint64(head[:], uint64(cpOffset-shift))
	if _, err := tmp.WriteAt(head[:], 0); err != nil {
		tmp.Close()
		return err
	}
	newOffset := logHeaderSize

	// Rewrite every surviving record: contents are unchanged except for the
	// embedded offsets, which all shrink by the removed prefix length.
	src := logReader{f: lf.file, off: minRecord}
	for src.off < oldLength {
		newStart := newOffset
		recType, err := src.readInt32()
		if err != nil {
			tmp.Close()
			return err
		}
		recTID, err := src.readInt64()
		if err != nil {
			tmp.Close()
			return err
		}

		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, recType)
		binary.Write(&buf, binary.BigEndian, recTID)

		switch LogRecordType(recType) {
		case UpdateRecord:
			for i := 0; i < 2; i++ {
				img, err := src.readImage()
				if err != nil {
					tmp.Close()
					return err
				}
				img.encodeTo(&buf)
			}
		case CheckpointRecord:
			n, err := src.readInt32()
			if err != nil {
				tmp.Close()
				return err
			}
			binary.Write(&buf, binary.BigEndian, n)
			for i := int32(0); i < n; i++ {
				xid, err := src.readInt64()
				if err != nil {
					tmp.Close()
					return err
				}
				xoff, err := src.readInt64()
				if err != nil {
					tmp.Close()
					return err
				}
				binary.Write(&buf, binary.BigEndian, xid)
				binary.Write(&buf, binary.BigEndian, xoff-shift)
			}
		case BeginRecord:
			// Only live transactions move; completed ones stay retired.
			if _, live := lf.active.Get(activeTxn{tid: common.TransactionID(recTID)}); live {
				lf.active.Set(activeTxn{tid: common.TransactionID(recTID), firstOffset: newStart})
			}
		}

		if _, err := src.readInt64(); err != nil { // old start offset
			tmp.Close()
			return err
		}
		binary.Write(&buf, binary.BigEndian, newStart)

		if _, err := tmp.WriteAt(buf.Bytes(), newOffset); err != nil {
			tmp.Close()
			return err
		}
		newOffset += int64(buf.Len())
	}

	// Force the rewritten log, swing it into place, and make the rename
	// itself durable before trusting the new offsets.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := lf.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), lf.path); err != nil {
		return err
	}
	if dir, err := os.Open(filepath.Dir(lf.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	f, err := os.OpenFile(lf.path, os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	lf.file = f
	lf.currentOffset = newOffset

	log.WithFields(log.Fields{
		"was": oldLength,
		"now": newOffset,
	}).Info("log truncated")
	return nil
}

// Shutdown writes a final checkpoint so the next startup recovers quickly,
// then closes the file. Errors are best-effort at this point.
func (lf *LogFile) Shutdown() {
	if err := lf.LogCheckpoint(); err != nil {
		log.WithError(err).Warn("shutdown checkpoint failed")
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.file.Close(); err != nil {
		log.WithError(err).Warn("closing log file failed")
	}
}
