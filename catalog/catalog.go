package catalog

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/storage"
)

// Catalog maps table ids to their backing files and names to ids. In a
// production DBMS the catalog is itself a set of tables enjoying the same
// ACID guarantees as user data; here it is runtime-only state rebuilt at
// startup by whoever opens the database, which keeps the storage core free
// of a bootstrap cycle.
type Catalog struct {
	files *xsync.MapOf[int32, storage.DbFile]
	names *xsync.MapOf[string, int32]
}

// NewCatalog builds an empty catalog and registers the heap-page
// constructor, so log recovery can revive heap pages through this catalog's
// schema lookups.
func NewCatalog() *Catalog {
	c := &Catalog{
		files: xsync.NewMapOf[int32, storage.DbFile](),
		names: xsync.NewMapOf[string, int32](),
	}
	storage.RegisterPageType(storage.HeapPageClass, func(idArgs []int32, data []byte) (storage.Page, error) {
		pid, err := common.LoadPageID(idArgs)
		if err != nil {
			return nil, err
		}
		file, err := c.DatabaseFile(pid.Table)
		if err != nil {
			return nil, err
		}
		return storage.NewHeapPage(pid, data, file.TupleDesc())
	})
	return c
}

// AddTable registers a file under the given name. Re-adding a name rebinds
// it; re-adding an id replaces its file.
func (c *Catalog) AddTable(file storage.DbFile, name string) {
	c.files.Store(file.ID(), file)
	c.names.Store(name, file.ID())
}

// DatabaseFile resolves a table id to its backing file.
func (c *Catalog) DatabaseFile(table int32) (storage.DbFile, error) {
	if f, ok := c.files.Load(table); ok {
		return f, nil
	}
	return nil, common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("no table with id %d", table)}
}

// TableID resolves a table name.
func (c *Catalog) TableID(name string) (int32, error) {
	if id, ok := c.names.Load(name); ok {
		return id, nil
	}
	return 0, common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("no table named %q", name)}
}

// TupleDesc returns the schema of the identified table.
func (c *Catalog) TupleDesc(table int32) (*storage.TupleDesc, error) {
	f, err := c.DatabaseFile(table)
	if err != nil {
		return nil, err
	}
	return f.TupleDesc(), nil
}

// TableNames lists registered tables in name order.
func (c *Catalog) TableNames() []string {
	var names []string
	c.names.Range(func(name string, _ int32) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Close closes every registered file. Best effort; the first error wins but
// every file sees a Close.
func (c *Catalog) Close() error {
	var firstErr error
	c.files.Range(func(_ int32, f storage.DbFile) bool {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
