package transaction

import (
	"sync/atomic"

	"mit.edu/dsg/simpledb/common"
)

var nextTID atomic.Int64

// NewTransactionID hands out the next process-unique transaction id.
// Ids are monotonic and never reuse InvalidTransactionID.
func NewTransactionID() common.TransactionID {
	return common.TransactionID(nextTID.Add(1))
}

// Permissions describes the access a transaction requests on a page.
type Permissions int

const (
	// ReadOnly is granted as a shared lock.
	ReadOnly Permissions = iota
	// ReadWrite is granted as an exclusive lock.
	ReadWrite
)

func (p Permissions) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	}
	return "unknown"
}
