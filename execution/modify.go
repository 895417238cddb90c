package execution

import (
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/storage"
)

var countDesc = storage.NewTupleDesc(
	[]common.Type{common.IntType}, []string{"count"})

// Insert drains its child into the destination table through the buffer
// pool, then yields a single one-field tuple holding the number of inserted
// rows. A second Next returns false.
type Insert struct {
	pool  *storage.BufferPool
	table int32
	tid   common.TransactionID
	child Operator

	done bool
	cur  *storage.Tuple
	err  error
}

func NewInsert(pool *storage.BufferPool, table int32, tid common.TransactionID, child Operator) *Insert {
	return &Insert{pool: pool, table: table, tid: tid, child: child}
}

func (op *Insert) Descriptor() *storage.TupleDesc {
	return countDesc
}

func (op *Insert) Open() error {
	op.done = false
	op.cur = nil
	op.err = nil
	return op.child.Open()
}

func (op *Insert) Next() bool {
	if op.done || op.err != nil {
		return false
	}
	count := int64(0)
	for op.child.Next() {
		t := op.child.Current()
		if err := op.pool.InsertTuple(op.tid, op.table, t); err != nil {
			op.err = err
			return false
		}
		count++
	}
	if err := op.child.Error(); err != nil {
		op.err = err
		return false
	}
	op.cur = storage.NewTuple(countDesc, []common.Value{common.NewIntValue(count)})
	op.done = true
	return true
}

func (op *Insert) Current() *storage.Tuple {
	return op.cur
}

func (op *Insert) Error() error {
	if op.err != nil {
		return op.err
	}
	return op.child.Error()
}

func (op *Insert) Rewind() error {
	op.done = false
	op.cur = nil
	return op.child.Rewind()
}

func (op *Insert) Close() error {
	return op.child.Close()
}

// Delete removes every tuple its child produces, then yields the count the
// same way Insert does.
type Delete struct {
	pool  *storage.BufferPool
	tid   common.TransactionID
	child Operator

	done bool
	cur  *storage.Tuple
	err  error
}

func NewDelete(pool *storage.BufferPool, tid common.TransactionID, child Operator) *Delete {
	return &Delete{pool: pool, tid: tid, child: child}
}

func (op *Delete) Descriptor() *storage.TupleDesc {
	return countDesc
}

func (op *Delete) Open() error {
	op.done = false
	op.cur = nil
	op.err = nil
	return op.child.Open()
}

func (op *Delete) Next() bool {
	if op.done || op.err != nil {
		return false
	}
	count := int64(0)
	for op.child.Next() {
		if err := op.pool.DeleteTuple(op.tid, op.child.Current()); err != nil {
			op.err = err
			return false
		}
		count++
	}
	if err := op.child.Error(); err != nil {
		op.err = err
		return false
	}
	op.cur = storage.NewTuple(countDesc, []common.Value{common.NewIntValue(count)})
	op.done = true
	return true
}

func (op *Delete) Current() *storage.Tuple {
	return op.cur
}

func (op *Delete) Error() error {
	if op.err != nil {
		return op.err
	}
	return op.child.Error()
}

func (op *Delete) Rewind() error {
	op.done = false
	op.cur = nil
	return op.child.Rewind()
}

func (op *Delete) Close() error {
	return op.child.Close()
}
