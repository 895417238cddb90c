package common

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultPageSize is the number of bytes per page, including the header.
	DefaultPageSize int = 4096
	IntSize         int = 8
	StringLength    int = 32
)

var pageSize = DefaultPageSize

// PageSize returns the current page size in bytes.
func PageSize() int {
	return pageSize
}

// SetPageSize overrides the page size. THIS FUNCTION SHOULD ONLY BE USED FOR
// TESTING; pages written under one size are unreadable under another.
func SetPageSize(n int) {
	Assert(n > 0, "page size must be positive")
	pageSize = n
}

// ResetPageSize restores the default page size. Tests only.
func ResetPageSize() {
	pageSize = DefaultPageSize
}

type Type int8

const (
	// For uninitialized Values
	DefaultType Type = iota
	IntType
	StringType
)

// Size returns the fixed-width storage size of the type in bytes
func (t Type) Size() int {
	switch t {
	case IntType:
		return IntSize
	case StringType:
		return StringLength
	default:
		panic("unknown type")
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// PageID uniquely identifies a page within the database: the table it belongs
// to and its position within that table's file.
type PageID struct {
	Table   int32
	PageNum int32
}

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d, %d)", p.Table, p.PageNum)
}

// Less defines the total order on page ids: by table, then by page number.
func (p PageID) Less(other PageID) bool {
	if p.Table != other.Table {
		return p.Table < other.Table
	}
	return p.PageNum < other.PageNum
}

// Serialize flattens the id into the integer arguments stored in a log
// page-image frame. LoadPageID is its inverse.
func (p PageID) Serialize() []int32 {
	return []int32{p.Table, p.PageNum}
}

// LoadPageID reconstructs a PageID from serialized image arguments.
func LoadPageID(args []int32) (PageID, error) {
	if len(args) != 2 {
		return PageID{}, DBError{Code: InvalidArgumentError, ErrString: fmt.Sprintf("page id wants 2 args, got %d", len(args))}
	}
	return PageID{Table: args[0], PageNum: args[1]}, nil
}

// RecordID identifies a specific tuple (row) via its PageID and slot index.
type RecordID struct {
	PageID
	Slot int32
}

func (r RecordID) String() string {
	return fmt.Sprintf("rid(%s, %d)", r.PageID.String(), r.Slot)
}

// TransactionID is a process-unique monotonic transaction identifier.
type TransactionID int64

// InvalidTransactionID doubles as the "clean" dirty-marker on pages.
const InvalidTransactionID TransactionID = 0

// Value represents a (deserialized) data item in a tuple. Values are
// immutable; a zero Value is nil (uninitialized), distinct from any stored
// value.
type Value struct {
	t                Type
	underlyingInt    int64
	underlyingString string
}

// NewIntValue creates a new integer Value.
func NewIntValue(v int64) Value {
	return Value{t: IntType, underlyingInt: v}
}

// NewStringValue creates a new string Value. Strings longer than
// StringLength do not fit the fixed-width slot layout.
func NewStringValue(v string) Value {
	if len(v) > StringLength {
		panic("string too long")
	}
	return Value{t: StringType, underlyingString: v}
}

// IsNil returns true if the Value is uninitialized.
func (v Value) IsNil() bool {
	return v.t == DefaultType
}

// Type returns the type of the Value.
func (v Value) Type() Type {
	return v.t
}

// IntValue returns the underlying integer.
func (v Value) IntValue() int64 {
	Assert(v.t == IntType, "type mismatch in IntValue")
	return v.underlyingInt
}

// StringValue returns the underlying string.
func (v Value) StringValue() string {
	Assert(v.t == StringType, "type mismatch in StringValue")
	return v.underlyingString
}

func (v Value) String() string {
	switch v.t {
	case IntType:
		return fmt.Sprintf("%d", v.underlyingInt)
	case StringType:
		return v.underlyingString
	}
	return "<nil>"
}

// SizeInBytes returns the serialization size (fixed width).
func (v Value) SizeInBytes() int {
	return v.t.Size()
}

// WriteTo serializes the Value into storage format. The buffer must hold at
// least SizeInBytes() bytes.
func (v Value) WriteTo(data []byte) {
	Assert(len(data) >= v.SizeInBytes(), "buffer too small")
	switch v.t {
	case IntType:
		binary.LittleEndian.PutUint64(data, uint64(v.underlyingInt))
	case StringType:
		n := copy(data, v.underlyingString)
		for i := n; i < StringLength; i++ {
			data[i] = 0
		}
	default:
		panic("writing uninitialized value")
	}
}

// AsValue extracts a value of the given type from a raw storage buffer.
// The returned Value owns its data and is safe to keep past the buffer.
func AsValue(t Type, source []byte) Value {
	switch t {
	case IntType:
		return NewIntValue(int64(binary.LittleEndian.Uint64(source)))
	case StringType:
		Assert(len(source) >= StringLength, "string field too short")
		realLen := StringLength
		for i := 0; i < StringLength; i++ {
			if source[i] == 0 {
				realLen = i
				break
			}
		}
		return NewStringValue(string(source[:realLen]))
	}
	panic("unknown type")
}

// Compare compares two Values of the same type.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Value) Compare(other Value) int {
	Assert(v.t == other.t, "type mismatch in comparison")
	switch v.t {
	case IntType:
		if v.underlyingInt < other.underlyingInt {
			return -1
		}
		if v.underlyingInt > other.underlyingInt {
			return 1
		}
		return 0
	case StringType:
		if v.underlyingString < other.underlyingString {
			return -1
		}
		if v.underlyingString > other.underlyingString {
			return 1
		}
		return 0
	}
	panic("unreachable")
}
