package storage

import (
	"fmt"
	"strings"

	"mit.edu/dsg/simpledb/common"
)

// TupleDesc describes the schema of a tuple: an ordered sequence of
// (type, name) pairs. Descriptors are immutable once built.
type TupleDesc struct {
	types []common.Type
	names []string
	// Cache of field index => byte offset within the fixed-width record.
	offsets []int
	size    int
}

// NewTupleDesc builds a descriptor from parallel type and name slices.
func NewTupleDesc(types []common.Type, names []string) *TupleDesc {
	common.Assert(len(types) > 0, "schema must have at least one field")
	common.Assert(len(types) == len(names), "types and names must align")
	offsets := make([]int, len(types))
	size := 0
	for i, t := range types {
		offsets[i] = size
		size += t.Size()
	}
	common.Assert(size <= common.PageSize()-1, "tuple cannot exceed page size")
	return &TupleDesc{
		types:   append([]common.Type(nil), types...),
		names:   append([]string(nil), names...),
		offsets: offsets,
		size:    size,
	}
}

// NumFields returns the number of fields in the schema.
func (td *TupleDesc) NumFields() int {
	return len(td.types)
}

// FieldType returns the type of field i.
func (td *TupleDesc) FieldType(i int) common.Type {
	return td.types[i]
}

// FieldName returns the name of field i.
func (td *TupleDesc) FieldName(i int) string {
	return td.names[i]
}

// FieldIndex finds the position of the named field.
func (td *TupleDesc) FieldIndex(name string) (int, error) {
	for i, n := range td.names {
		if n == name {
			return i, nil
		}
	}
	return -1, common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("no field named %q", name)}
}

// Size returns the fixed number of bytes a tuple of this schema occupies in
// a page slot.
func (td *TupleDesc) Size() int {
	return td.size
}

// FieldOffset returns the byte offset where field i begins within a record.
func (td *TupleDesc) FieldOffset(i int) int {
	return td.offsets[i]
}

// Equals compares two descriptors field by field. Names participate; two
// schemas that differ only in naming are distinct.
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if other == nil || len(td.types) != len(other.types) {
		return false
	}
	for i := range td.types {
		if td.types[i] != other.types[i] || td.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

func (td *TupleDesc) String() string {
	var sb strings.Builder
	for i := range td.types {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s(%s)", td.names[i], td.types[i])
	}
	return sb.String()
}

// Tuple is an ordered sequence of typed values matching a TupleDesc. A tuple
// resident on a page additionally carries the RecordID of its slot.
type Tuple struct {
	desc   *TupleDesc
	values []common.Value
	rid    common.RecordID
	// hasRID distinguishes "slot 0 of page 0" from "not on any page".
	hasRID bool
}

// NewTuple builds a tuple from a schema and matching values.
func NewTuple(desc *TupleDesc, values []common.Value) *Tuple {
	common.Assert(len(values) == desc.NumFields(), "value count must match schema")
	for i, v := range values {
		common.Assert(v.Type() == desc.FieldType(i), "field %d type mismatch", i)
	}
	return &Tuple{desc: desc, values: append([]common.Value(nil), values...)}
}

// Desc returns the tuple's schema.
func (t *Tuple) Desc() *TupleDesc {
	return t.desc
}

// Field returns the value at index i.
func (t *Tuple) Field(i int) common.Value {
	return t.values[i]
}

// SetField replaces the value at index i.
func (t *Tuple) SetField(i int, v common.Value) {
	common.Assert(v.Type() == t.desc.FieldType(i), "field %d type mismatch", i)
	t.values[i] = v
}

// RecordID returns the tuple's on-page location and whether it has one.
func (t *Tuple) RecordID() (common.RecordID, bool) {
	return t.rid, t.hasRID
}

// SetRecordID pins the tuple to a page slot. Called by the page codec on
// insert and by iterators on read.
func (t *Tuple) SetRecordID(rid common.RecordID) {
	t.rid = rid
	t.hasRID = true
}

// ClearRecordID detaches the tuple from any page.
func (t *Tuple) ClearRecordID() {
	t.rid = common.RecordID{}
	t.hasRID = false
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Equals compares schema and values; record ids do not participate.
func (t *Tuple) Equals(other *Tuple) bool {
	if other == nil || !t.desc.Equals(other.desc) {
		return false
	}
	for i := range t.values {
		if t.values[i].Compare(other.values[i]) != 0 {
			return false
		}
	}
	return true
}

// writeTo serializes the tuple's fields into a fixed-width record buffer of
// at least desc.Size() bytes.
func (t *Tuple) writeTo(buf []byte) {
	common.Assert(len(buf) >= t.desc.size, "record buffer too small")
	for i, v := range t.values {
		v.WriteTo(buf[t.desc.offsets[i]:])
	}
}

// parseTuple deserializes one fixed-width record.
func parseTuple(desc *TupleDesc, buf []byte) *Tuple {
	common.Assert(len(buf) >= desc.size, "record buffer too small")
	values := make([]common.Value, desc.NumFields())
	for i := range values {
		values[i] = common.AsValue(desc.types[i], buf[desc.offsets[i]:])
	}
	return &Tuple{desc: desc, values: values}
}
