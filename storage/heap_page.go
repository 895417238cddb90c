package storage

import (
	"fmt"

	"mit.edu/dsg/simpledb/common"
)

// HeapPageClass tags heap pages in log page-image frames.
const HeapPageClass = "HeapPage"

// PageIDClass tags the id variant in log page-image frames.
const PageIDClass = "PageID"

// HeapPage Layout:
// header bitmap (ceil(numSlots/8) bytes, bit i set = slot i occupied) | numSlots fixed-width records | zero padding
//
// numSlots = floor(PageSize*8 / (tupleBytes*8 + 1)): each slot costs its
// record plus one header bit. Deleting a tuple clears its bit and leaves the
// record bytes as garbage.
type HeapPage struct {
	pid common.PageID
	td  *TupleDesc

	data        []byte
	numSlots    int
	headerBytes int

	// dirtier is the transient dirty marker: the transaction that most
	// recently mutated this page, or InvalidTransactionID.
	dirtier common.TransactionID
	// before is the snapshot a rollback restores. Captured at construction
	// and re-captured after each commit.
	before []byte
}

// HeapPageSlots returns the slot count a page of the current page size holds
// for the given schema.
func HeapPageSlots(td *TupleDesc) int {
	return (common.PageSize() * 8) / (td.Size()*8 + 1)
}

// EmptyHeapPageData returns the serialized form of a freshly allocated page.
func EmptyHeapPageData() []byte {
	return make([]byte, common.PageSize())
}

// NewHeapPage constructs a page over the given serialized data. The data is
// not copied; the page owns it from here on. The current content becomes the
// initial before-image.
func NewHeapPage(pid common.PageID, data []byte, td *TupleDesc) (*HeapPage, error) {
	if len(data) != common.PageSize() {
		return nil, common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("heap page wants %d bytes, got %d", common.PageSize(), len(data))}
	}
	numSlots := HeapPageSlots(td)
	p := &HeapPage{
		pid:         pid,
		td:          td,
		data:        data,
		numSlots:    numSlots,
		headerBytes: (numSlots + 7) / 8,
	}
	p.SetBeforeImage()
	return p, nil
}

// NewEmptyHeapPage constructs a freshly initialized page with every slot
// free.
func NewEmptyHeapPage(pid common.PageID, td *TupleDesc) *HeapPage {
	p, err := NewHeapPage(pid, EmptyHeapPageData(), td)
	common.Assert(err == nil, "empty page construction cannot fail: %v", err)
	return p
}

func (p *HeapPage) ID() common.PageID {
	return p.pid
}

func (p *HeapPage) Data() []byte {
	return p.data
}

func (p *HeapPage) Dirtier() common.TransactionID {
	return p.dirtier
}

func (p *HeapPage) MarkDirty(dirty bool, tid common.TransactionID) {
	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = common.InvalidTransactionID
	}
}

// BeforeImage returns a clean page holding the last snapshot.
func (p *HeapPage) BeforeImage() Page {
	data := append([]byte(nil), p.before...)
	bp, err := NewHeapPage(p.pid, data, p.td)
	common.Assert(err == nil, "before-image construction cannot fail: %v", err)
	return bp
}

func (p *HeapPage) SetBeforeImage() {
	p.before = append(p.before[:0], p.data...)
}

func (p *HeapPage) PageClass() string {
	return HeapPageClass
}

// TupleDesc returns the schema of the tuples stored on this page.
func (p *HeapPage) TupleDesc() *TupleDesc {
	return p.td
}

// NumSlots returns the page's slot capacity.
func (p *HeapPage) NumSlots() int {
	return p.numSlots
}

// SlotUsed reports whether slot i holds a live tuple.
func (p *HeapPage) SlotUsed(i int) bool {
	common.Assert(i >= 0 && i < p.numSlots, "slot %d out of range", i)
	return p.data[i/8]&(1<<(uint(i)%8)) != 0
}

func (p *HeapPage) setSlotUsed(i int, used bool) {
	common.Assert(i >= 0 && i < p.numSlots, "slot %d out of range", i)
	if used {
		p.data[i/8] |= 1 << (uint(i) % 8)
	} else {
		p.data[i/8] &^= 1 << (uint(i) % 8)
	}
}

// NumUsedSlots counts live tuples on the page.
func (p *HeapPage) NumUsedSlots() int {
	used := 0
	for i := 0; i < p.numSlots; i++ {
		if p.SlotUsed(i) {
			used++
		}
	}
	return used
}

// HasFreeSlot reports whether an insert can succeed.
func (p *HeapPage) HasFreeSlot() bool {
	return p.findFreeSlot() != -1
}

func (p *HeapPage) findFreeSlot() int {
	for i := 0; i < p.numSlots; i++ {
		if !p.SlotUsed(i) {
			return i
		}
	}
	return -1
}

func (p *HeapPage) slotOffset(i int) int {
	return p.headerBytes + i*p.td.Size()
}

// InsertTuple writes the tuple into the first free slot, marks the slot
// occupied, and assigns the tuple's RecordID. The caller must hold an
// exclusive lock on the page and is responsible for the dirty marker.
func (p *HeapPage) InsertTuple(t *Tuple) error {
	if !t.Desc().Equals(p.td) {
		return common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("schema mismatch inserting into %s: %s vs %s", p.pid, t.Desc(), p.td)}
	}
	slot := p.findFreeSlot()
	if slot == -1 {
		return common.DBError{Code: common.StorageError, ErrString: fmt.Sprintf("%s is full", p.pid)}
	}
	t.writeTo(p.data[p.slotOffset(slot):])
	p.setSlotUsed(slot, true)
	t.SetRecordID(common.RecordID{PageID: p.pid, Slot: int32(slot)})
	return nil
}

// DeleteTuple tombstones the tuple's slot. The record bytes remain as
// garbage; only the header bit changes.
func (p *HeapPage) DeleteTuple(t *Tuple) error {
	rid, ok := t.RecordID()
	if !ok || rid.PageID != p.pid {
		return common.DBError{Code: common.InvalidArgumentError, ErrString: fmt.Sprintf("tuple is not on %s", p.pid)}
	}
	slot := int(rid.Slot)
	if slot < 0 || slot >= p.numSlots || !p.SlotUsed(slot) {
		return common.DBError{Code: common.NotFoundError, ErrString: fmt.Sprintf("no tuple at slot %d of %s", slot, p.pid)}
	}
	p.setSlotUsed(slot, false)
	t.ClearRecordID()
	return nil
}

// TupleAt deserializes the tuple in an occupied slot.
func (p *HeapPage) TupleAt(slot int) *Tuple {
	common.Assert(slot >= 0 && slot < p.numSlots, "slot %d out of range", slot)
	common.Assert(p.SlotUsed(slot), "slot %d is empty", slot)
	t := parseTuple(p.td, p.data[p.slotOffset(slot):])
	t.SetRecordID(common.RecordID{PageID: p.pid, Slot: int32(slot)})
	return t
}
