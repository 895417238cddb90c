package execution

import (
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/storage"
)

// PredicateOp is a comparison between a tuple field and a constant.
type PredicateOp int

const (
	Equals PredicateOp = iota
	GreaterThan
	LessThan
	LessThanOrEq
	GreaterThanOrEq
	NotEquals
)

func (op PredicateOp) String() string {
	switch op {
	case Equals:
		return "="
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case LessThanOrEq:
		return "<="
	case GreaterThanOrEq:
		return ">="
	case NotEquals:
		return "<>"
	}
	return "?"
}

// Predicate compares one field of a tuple against a constant operand.
type Predicate struct {
	field   int
	op      PredicateOp
	operand common.Value
}

// NewPredicate builds a predicate over field index `field`.
func NewPredicate(field int, op PredicateOp, operand common.Value) *Predicate {
	return &Predicate{field: field, op: op, operand: operand}
}

// Matches applies the predicate to a tuple.
func (p *Predicate) Matches(t *storage.Tuple) bool {
	cmp := t.Field(p.field).Compare(p.operand)
	switch p.op {
	case Equals:
		return cmp == 0
	case GreaterThan:
		return cmp > 0
	case LessThan:
		return cmp < 0
	case LessThanOrEq:
		return cmp <= 0
	case GreaterThanOrEq:
		return cmp >= 0
	case NotEquals:
		return cmp != 0
	}
	panic("unknown predicate op")
}

// Filter passes through the child's tuples that satisfy a predicate.
type Filter struct {
	pred  *Predicate
	child Operator
}

func NewFilter(pred *Predicate, child Operator) *Filter {
	return &Filter{pred: pred, child: child}
}

func (f *Filter) Descriptor() *storage.TupleDesc {
	return f.child.Descriptor()
}

func (f *Filter) Open() error {
	return f.child.Open()
}

func (f *Filter) Next() bool {
	for f.child.Next() {
		if f.pred.Matches(f.child.Current()) {
			return true
		}
	}
	return false
}

func (f *Filter) Current() *storage.Tuple {
	return f.child.Current()
}

func (f *Filter) Error() error {
	return f.child.Error()
}

func (f *Filter) Rewind() error {
	return f.child.Rewind()
}

func (f *Filter) Close() error {
	return f.child.Close()
}
