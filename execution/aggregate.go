package execution

import (
	"fmt"
	"sort"

	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/storage"
)

// AggregateOp names the supported aggregate functions.
type AggregateOp int

const (
	Min AggregateOp = iota
	Max
	Sum
	Avg
	Count
)

func (op AggregateOp) String() string {
	switch op {
	case Min:
		return "min"
	case Max:
		return "max"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case Count:
		return "count"
	}
	return "?"
}

// NoGrouping selects a single ungrouped aggregate.
const NoGrouping = -1

// Aggregator accumulates tuples one at a time and serves the grouped
// results as a materialized operator.
type Aggregator interface {
	Merge(t *storage.Tuple) error
	Results() Operator
}

type intAggState struct {
	count int64
	sum   int64
	min   int64
	max   int64
}

// IntegerAggregator computes MIN/MAX/SUM/AVG/COUNT over an int field,
// optionally grouped by another field. AVG is integer division of sum by
// count.
type IntegerAggregator struct {
	gbField int
	gbType  common.Type
	aField  int
	op      AggregateOp

	groups map[common.Value]*intAggState
}

// NewIntegerAggregator builds an aggregator. gbField is NoGrouping for a
// single result; gbType is ignored in that case.
func NewIntegerAggregator(gbField int, gbType common.Type, aField int, op AggregateOp) *IntegerAggregator {
	return &IntegerAggregator{
		gbField: gbField,
		gbType:  gbType,
		aField:  aField,
		op:      op,
		groups:  make(map[common.Value]*intAggState),
	}
}

func (a *IntegerAggregator) Merge(t *storage.Tuple) error {
	var key common.Value
	if a.gbField != NoGrouping {
		key = t.Field(a.gbField)
	}
	state, ok := a.groups[key]
	if !ok {
		state = &intAggState{}
		a.groups[key] = state
	}
	v := t.Field(a.aField).IntValue()
	if state.count == 0 {
		state.min = v
		state.max = v
	} else {
		if v < state.min {
			state.min = v
		}
		if v > state.max {
			state.max = v
		}
	}
	state.count++
	state.sum += v
	return nil
}

func (a *IntegerAggregator) value(s *intAggState) int64 {
	switch a.op {
	case Min:
		return s.min
	case Max:
		return s.max
	case Sum:
		return s.sum
	case Avg:
		return s.sum / s.count
	case Count:
		return s.count
	}
	panic("unknown aggregate op")
}

func (a *IntegerAggregator) Results() Operator {
	return groupResults(a.gbField, a.gbType, a.op, a.groups, a.value)
}

// StringAggregator supports COUNT over a string field; no other aggregate is
// meaningful on strings.
type StringAggregator struct {
	gbField int
	gbType  common.Type
	op      AggregateOp

	groups map[common.Value]*intAggState
}

// NewStringAggregator fails with InvalidArgument for any operator but Count.
func NewStringAggregator(gbField int, gbType common.Type, aField int, op AggregateOp) (*StringAggregator, error) {
	if op != Count {
		return nil, common.DBError{Code: common.InvalidArgumentError, ErrString: fmt.Sprintf("aggregate %s is not supported on string fields", op)}
	}
	_ = aField
	return &StringAggregator{
		gbField: gbField,
		gbType:  gbType,
		op:      op,
		groups:  make(map[common.Value]*intAggState),
	}, nil
}

func (a *StringAggregator) Merge(t *storage.Tuple) error {
	var key common.Value
	if a.gbField != NoGrouping {
		key = t.Field(a.gbField)
	}
	state, ok := a.groups[key]
	if !ok {
		state = &intAggState{}
		a.groups[key] = state
	}
	state.count++
	return nil
}

func (a *StringAggregator) Results() Operator {
	return groupResults(a.gbField, a.gbType, a.op,
		a.groups, func(s *intAggState) int64 { return s.count })
}

// groupResults materializes the groups in key order.
func groupResults(gbField int, gbType common.Type, op AggregateOp,
	groups map[common.Value]*intAggState, value func(*intAggState) int64) Operator {

	var desc *storage.TupleDesc
	if gbField == NoGrouping {
		desc = storage.NewTupleDesc(
			[]common.Type{common.IntType}, []string{op.String()})
	} else {
		desc = storage.NewTupleDesc(
			[]common.Type{gbType, common.IntType}, []string{"group", op.String()})
	}

	keys := make([]common.Value, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if gbField == NoGrouping {
			return false
		}
		return keys[i].Compare(keys[j]) < 0
	})

	tuples := make([]*storage.Tuple, 0, len(keys))
	for _, k := range keys {
		agg := common.NewIntValue(value(groups[k]))
		if gbField == NoGrouping {
			tuples = append(tuples, storage.NewTuple(desc, []common.Value{agg}))
		} else {
			tuples = append(tuples, storage.NewTuple(desc, []common.Value{k, agg}))
		}
	}
	return newTupleList(desc, tuples)
}

// Aggregate drains its child through an Aggregator on Open and then serves
// the grouped results.
type Aggregate struct {
	child Operator
	agg   Aggregator

	results Operator
	err     error
}

// NewAggregate wires a child to an aggregator.
func NewAggregate(child Operator, agg Aggregator) *Aggregate {
	return &Aggregate{child: child, agg: agg}
}

func (a *Aggregate) Descriptor() *storage.TupleDesc {
	return a.Results().Descriptor()
}

// Results exposes the materialized output; before Open it is empty.
func (a *Aggregate) Results() Operator {
	if a.results == nil {
		a.results = a.agg.Results()
	}
	return a.results
}

func (a *Aggregate) Open() error {
	if err := a.child.Open(); err != nil {
		return err
	}
	for a.child.Next() {
		if err := a.agg.Merge(a.child.Current()); err != nil {
			a.err = err
			return err
		}
	}
	if err := a.child.Error(); err != nil {
		a.err = err
		return err
	}
	a.results = a.agg.Results()
	return a.results.Open()
}

func (a *Aggregate) Next() bool {
	return a.results != nil && a.results.Next()
}

func (a *Aggregate) Current() *storage.Tuple {
	return a.results.Current()
}

func (a *Aggregate) Error() error {
	return a.err
}

func (a *Aggregate) Rewind() error {
	if a.results == nil {
		return nil
	}
	return a.results.Rewind()
}

func (a *Aggregate) Close() error {
	return a.child.Close()
}
