package execution

import (
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/storage"
)

// SeqScan reads every live tuple of one table in page order on behalf of a
// transaction, taking shared page locks as it goes.
type SeqScan struct {
	pool *storage.BufferPool
	file storage.DbFile
	tid  common.TransactionID

	it storage.Iterator
}

// NewSeqScan builds a scan of the given table.
func NewSeqScan(pool *storage.BufferPool, file storage.DbFile, tid common.TransactionID) *SeqScan {
	return &SeqScan{pool: pool, file: file, tid: tid}
}

func (s *SeqScan) Descriptor() *storage.TupleDesc {
	return s.file.TupleDesc()
}

func (s *SeqScan) Open() error {
	s.it = s.file.Iterator(s.tid, s.pool)
	return s.it.Open()
}

func (s *SeqScan) Next() bool {
	return s.it != nil && s.it.Next()
}

func (s *SeqScan) Current() *storage.Tuple {
	return s.it.Current()
}

func (s *SeqScan) Error() error {
	if s.it == nil {
		return nil
	}
	return s.it.Error()
}

func (s *SeqScan) Rewind() error {
	return s.it.Rewind()
}

func (s *SeqScan) Close() error {
	if s.it == nil {
		return nil
	}
	return s.it.Close()
}
