// Package simpledb wires the transactional storage core together: the
// catalog, the buffer pool with its lock table, and the write-ahead log.
package simpledb

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/simpledb/catalog"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/config"
	"mit.edu/dsg/simpledb/logging"
	"mit.edu/dsg/simpledb/storage"
	"mit.edu/dsg/simpledb/transaction"
)

// Database is the process-wide container. Components hold explicit handles
// to each other rather than reaching for globals, so tests can stand up as
// many instances as they like.
type Database struct {
	Catalog     *catalog.Catalog
	BufferPool  *storage.BufferPool
	LockManager *transaction.LockManager
	Log         *logging.LogFile

	cfg config.Config
}

// Open assembles a database from the given configuration. The existing log,
// if any, is left untouched until the caller either recovers or starts
// appending; the first append discards stale log contents.
func Open(cfg config.Config) (*Database, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.LogPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	cat := catalog.NewCatalog()
	locks := transaction.NewLockManager(cfg.SharedLockTimeout(), cfg.ExclusiveLockTimeout())
	pool := storage.NewBufferPool(cfg.NumPages, cat, locks)
	lf, err := logging.OpenLogFile(cfg.LogPath, pool)
	if err != nil {
		return nil, err
	}
	pool.SetLog(lf)

	return &Database{
		Catalog:     cat,
		BufferPool:  pool,
		LockManager: locks,
		Log:         lf,
		cfg:         cfg,
	}, nil
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() config.Config {
	return db.cfg
}

// CreateTable opens or creates a heap file under the data directory and
// registers it. Reopening an existing file keeps its contents.
func (db *Database) CreateTable(name string, td *storage.TupleDesc) (*storage.HeapFile, error) {
	f, err := storage.NewHeapFile(filepath.Join(db.cfg.DataDir, name+".dat"), td)
	if err != nil {
		return nil, err
	}
	db.Catalog.AddTable(f, name)
	return f, nil
}

// Recover replays the write-ahead log, installing committed work and
// unwinding everything else. Call before the first transaction when the
// previous process may have died uncleanly.
func (db *Database) Recover() error {
	return db.Log.Recover()
}

// Begin hands out a fresh transaction id and logs its BEGIN record.
func (db *Database) Begin() (common.TransactionID, error) {
	tid := transaction.NewTransactionID()
	if err := db.Log.LogBegin(tid); err != nil {
		return common.InvalidTransactionID, err
	}
	return tid, nil
}

// Commit completes the transaction: dirty pages flush through the WAL
// (FORCE), locks release, and the COMMIT record is forced.
func (db *Database) Commit(tid common.TransactionID) error {
	if err := db.BufferPool.TransactionComplete(tid, true); err != nil {
		return err
	}
	return db.Log.LogCommit(tid)
}

// Abort rolls the transaction back: logged updates are unwound, the ABORT
// record is forced, buffered pages revert to their on-disk state, and locks
// release.
func (db *Database) Abort(tid common.TransactionID) error {
	if db.Log.Active(tid) {
		if err := db.Log.LogAbort(tid); err != nil {
			return err
		}
	}
	return db.BufferPool.TransactionComplete(tid, false)
}

// Shutdown writes a final checkpoint so the next start recovers instantly,
// then closes the log and every table file. I/O errors here are logged and
// swallowed; shutdown is best-effort.
func (db *Database) Shutdown() {
	db.Log.Shutdown()
	if err := db.Catalog.Close(); err != nil {
		log.WithError(err).Warn("closing table files failed")
	}
}
