package storage

import (
	"fmt"
	"sync"

	"mit.edu/dsg/simpledb/common"
)

// Page is a fixed-size byte block: the unit of locking, I/O, and cache
// residency. HeapPage is the only variant today; the interface and the
// constructor registry below leave room for others (index pages, directory
// pages) without touching recovery.
type Page interface {
	// ID returns the page's position in the database.
	ID() common.PageID
	// Data returns the page's serialized form: exactly PageSize bytes.
	// Mutations through the page's own methods are reflected here.
	Data() []byte
	// Dirtier returns the id of the transaction that most recently mutated
	// the page under an exclusive lock, or InvalidTransactionID when clean.
	Dirtier() common.TransactionID
	// MarkDirty sets or clears the dirty marker.
	MarkDirty(dirty bool, tid common.TransactionID)
	// BeforeImage returns the page as it looked at the last
	// SetBeforeImage call: the state a rollback restores.
	BeforeImage() Page
	// SetBeforeImage snapshots the current content as the new before-image.
	// Called at start-of-transaction use and again after each commit.
	SetBeforeImage()
	// PageClass returns the registry tag identifying the page variant in
	// log page-image frames.
	PageClass() string
}

// PageCtor reconstructs a concrete page variant from the arguments stored in
// a log page-image frame.
type PageCtor func(idArgs []int32, data []byte) (Page, error)

var (
	pageCtorMu sync.RWMutex
	pageCtors  = make(map[string]PageCtor)
)

// RegisterPageType installs the constructor recovery uses to revive pages of
// the named class from the log. Registering a name twice replaces the
// previous constructor; the catalog re-registers on startup.
func RegisterPageType(name string, ctor PageCtor) {
	pageCtorMu.Lock()
	defer pageCtorMu.Unlock()
	pageCtors[name] = ctor
}

// NewPageFromImage dispatches to the registered constructor for pageClass.
func NewPageFromImage(pageClass string, idArgs []int32, data []byte) (Page, error) {
	pageCtorMu.RLock()
	ctor, ok := pageCtors[pageClass]
	pageCtorMu.RUnlock()
	if !ok {
		return nil, common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("no page constructor registered for %q", pageClass)}
	}
	return ctor(idArgs, data)
}
