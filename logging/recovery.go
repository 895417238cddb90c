package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/btree"
	"mit.edu/dsg/simpledb/common"
)

// Recover rebuilds a consistent state after a crash: committed transactions'
// updates are installed, everything else is unwound.
//
// Pass structure:
//  1. Seed the live-transaction table from the last checkpoint, if any.
//  2. REDO forward from the checkpoint (or the start of the log), applying
//     every UPDATE's after-image. BEGIN registers a transaction, COMMIT
//     retires it, and ABORT additionally unwinds the transaction's updates;
//     a checkpoint may have pushed its uncommitted pages to disk, so the
//     abort that happened before the crash has to be re-applied to storage.
//  3. UNDO every loser (still live at end of log) by installing the
//     before-image of its first update to each page it touched.
//
// Images are written through to the heap files as well as installed in the
// buffer pool: a page that is later evicted clean must not resurrect stale
// disk bytes.
func (lf *LogFile) Recover() error {
	lf.store.Lock()
	defer lf.store.Unlock()
	lf.mu.Lock()
	defer lf.mu.Unlock()

	lf.recoveryUndecided = false

	stat, err := lf.file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size < logHeaderSize {
		if err := lf.writeHeader(NoCheckpoint); err != nil {
			return err
		}
		lf.currentOffset = logHeaderSize
		return nil
	}
	lf.currentOffset = size

	cpOffset, err := lf.readHeader()
	if err != nil {
		return err
	}

	lf.active = btree.NewBTreeG(lessByTID)
	scan := logReader{f: lf.file, off: logHeaderSize}
	if cpOffset != NoCheckpoint {
		r := logReader{f: lf.file, off: cpOffset}
		recType, err := r.readInt32()
		if err != nil {
			return err
		}
		if LogRecordType(recType) != CheckpointRecord {
			return common.DBError{Code: common.LogError, ErrString: fmt.Sprintf(
				"log header points at a %s record, not a checkpoint", LogRecordType(recType))}
		}
		if _, err := r.readInt64(); err != nil { // checkpoint tid slot
			return err
		}
		count, err := r.readInt32()
		if err != nil {
			return err
		}
		for i := int32(0); i < count; i++ {
			tid, err := r.readInt64()
			if err != nil {
				return err
			}
			first, err := r.readInt64()
			if err != nil {
				return err
			}
			lf.active.Set(activeTxn{tid: common.TransactionID(tid), firstOffset: first})
		}
		if _, err := r.readInt64(); err != nil { // trailing start offset
			return err
		}
		scan.off = r.off
	}

	redone := 0
	for scan.off < size {
		start := scan.off
		recType, err := scan.readInt32()
		if err != nil {
			return err
		}
		recTID, err := scan.readInt64()
		if err != nil {
			return err
		}
		tid := common.TransactionID(recTID)

		switch LogRecordType(recType) {
		case BeginRecord:
			lf.active.Set(activeTxn{tid: tid, firstOffset: start})
		case CommitRecord:
			lf.active.Delete(activeTxn{tid: tid})
		case AbortRecord:
			if err := lf.undoTransaction(tid); err != nil {
				return err
			}
			lf.active.Delete(activeTxn{tid: tid})
		case UpdateRecord:
			if _, err := scan.readImage(); err != nil { // before-image
				return err
			}
			after, err := scan.readImage()
			if err != nil {
				return err
			}
			pid, err := after.PageID()
			if err != nil {
				return err
			}
			lf.store.DiscardPage(pid)
			if err := lf.store.InstallPage(after, common.InvalidTransactionID); err != nil {
				return err
			}
			if err := lf.store.WriteBack(after); err != nil {
				return err
			}
			redone++
		case CheckpointRecord:
			count, err := scan.readInt32()
			if err != nil {
				return err
			}
			scan.off += int64(count) * 16
		default:
			return common.DBError{Code: common.LogError, ErrString: fmt.Sprintf("unexpected record type %d at offset %d", recType, start)}
		}

		if _, err := scan.readInt64(); err != nil { // trailing start offset
			return err
		}
	}

	var losers []common.TransactionID
	lf.active.Scan(func(e activeTxn) bool {
		losers = append(losers, e.tid)
		return true
	})
	for _, tid := range losers {
		if err := lf.undoTransaction(tid); err != nil {
			return err
		}
		lf.active.Delete(activeTxn{tid: tid})
	}

	log.WithFields(log.Fields{
		"redone": redone,
		"losers": len(losers),
	}).Info("recovery complete")
	return nil
}

// undoTransaction walks forward from tid's first log record and restores the
// before-image of the first update it made to each page, in the pool and on
// disk.
func (lf *LogFile) undoTransaction(tid common.TransactionID) error {
	entry, ok := lf.active.Get(activeTxn{tid: tid})
	if !ok {
		return common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("transaction %d has no first-record offset", tid)}
	}

	seen := make(map[common.PageID]*PageImage)
	var order []common.PageID

	r := logReader{f: lf.file, off: entry.firstOffset}
	for r.off < lf.currentOffset {
		recType, err := r.readInt32()
		if err != nil {
			return err
		}
		recTID, err := r.readInt64()
		if err != nil {
			return err
		}
		switch LogRecordType(recType) {
		case UpdateRecord:
			before, err := r.readImage()
			if err != nil {
				return err
			}
			if _, err := r.readImage(); err != nil { // after-image
				return err
			}
			if common.TransactionID(recTID) == tid {
				pid, err := before.PageID()
				if err != nil {
					return err
				}
				if _, dup := seen[pid]; !dup {
					seen[pid] = before
					order = append(order, pid)
				}
			}
		case AbortRecord, CommitRecord:
			if common.TransactionID(recTID) == tid {
				// Everything past the transaction's own completion record is
				// someone else's history.
				r.off = lf.currentOffset
				continue
			}
		case CheckpointRecord:
			count, err := r.readInt32()
			if err != nil {
				return err
			}
			r.off += int64(count) * 16
		}
		if r.off >= lf.currentOffset {
			break
		}
		if _, err := r.readInt64(); err != nil { // trailing start offset
			return err
		}
	}

	for _, pid := range order {
		img := seen[pid]
		lf.store.DiscardPage(pid)
		if err := lf.store.InstallPage(img, common.InvalidTransactionID); err != nil {
			return err
		}
		if err := lf.store.WriteBack(img); err != nil {
			return err
		}
		log.WithFields(log.Fields{"tid": tid, "page": pid}).Debug("undid page")
	}
	return nil
}
