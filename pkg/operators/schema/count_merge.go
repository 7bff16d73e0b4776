package schema

import (
	"fmt"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// MergeMode selects how CountMerge combines its children's partial counts.
type MergeMode int

const (
	// MergeFlatSum sums single-row [count] blocks into one total.
	MergeFlatSum MergeMode = iota
	// MergeGroupedByKey sums [level, count] rows per level key.
	MergeGroupedByKey
)

func (m MergeMode) String() string {
	switch m {
	case MergeFlatSum:
		return "FlatSum"
	case MergeGroupedByKey:
		return "GroupedByKey"
	default:
		return fmt.Sprintf("MergeMode(%d)", int(m))
	}
}

// CountMerge reduces the partial count results of its children, typically
// one per shard, into a single block. It is single-shot: the first Next
// pulls every child exactly once, returns the merged block and finishes the
// operator whatever the outcome.
//
// Counts are accumulated as int32 without overflow checks.
type CountMerge struct {
	operator.Base
	mode     MergeMode
	children []operator.Operator
}

// NewCountMerge creates a CountMerge over children in the given mode.
func NewCountMerge(ctx *operator.Context, mode MergeMode, children ...operator.Operator) *CountMerge {
	return &CountMerge{Base: operator.NewBase(ctx), mode: mode, children: children}
}

func (c *CountMerge) Mode() MergeMode { return c.mode }

func (c *CountMerge) Children() []operator.Operator { return c.children }

func (c *CountMerge) Next() (*block.Block, error) {
	if err := c.CheckNotFinished(); err != nil {
		return nil, err
	}
	c.Finish()

	var (
		out *block.Block
		err error
	)
	switch c.mode {
	case MergeFlatSum:
		out, err = c.mergeFlat()
	case MergeGroupedByKey:
		out, err = c.mergeGrouped()
	default:
		err = fmt.Errorf("count merge: unknown mode %v", c.mode)
	}
	if err != nil {
		// Child failures are returned as is.
		return nil, c.Context().RecordError(err)
	}
	c.Context().RecordOutput(out)
	return out, nil
}

func (c *CountMerge) mergeFlat() (*block.Block, error) {
	var total int32
	for i, child := range c.children {
		b, err := child.Next()
		if err != nil {
			return nil, err
		}
		if b == nil || b.PositionCount() == 0 {
			if b != nil {
				b.Release()
			}
			return nil, fmt.Errorf("count merge: child %d returned no count", i)
		}
		if b.ValueColumnCount() < 1 || b.Fields()[0].Type != block.TypeInt32 {
			b.Release()
			return nil, fmt.Errorf("count merge: child %d: want INT32 count column, got %v", i, b.Types())
		}
		total += b.Int32(0, 0)
		b.Release()
	}

	bb := block.NewBuilder(c.Context().Alloc, CountField)
	defer bb.Release()
	bb.WriteTime(0)
	bb.Column(0).WriteInt32(total)
	return buildOne(bb)
}

func (c *CountMerge) mergeGrouped() (*block.Block, error) {
	counts := make(map[string]int32)
	for i, child := range c.children {
		b, err := child.Next()
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		err = accumulateGrouped(b, counts)
		b.Release()
		if err != nil {
			return nil, fmt.Errorf("count merge: child %d: %w", i, err)
		}
	}

	bb := block.NewBuilder(c.Context().Alloc, LevelField, CountField)
	defer bb.Release()
	for key, count := range counts {
		bb.WriteTime(0)
		bb.Column(0).WriteText(key)
		bb.Column(1).WriteInt32(count)
		if err := bb.DeclarePosition(); err != nil {
			return nil, err
		}
	}
	return bb.Build()
}

func accumulateGrouped(b *block.Block, counts map[string]int32) error {
	types := b.Types()
	if len(types) < 2 || types[0] != block.TypeText || types[1] != block.TypeInt32 {
		return fmt.Errorf("want [TEXT, INT32] columns, got %v", types)
	}
	for pos := 0; pos < b.PositionCount(); pos++ {
		counts[b.Text(0, pos)] += b.Int32(1, pos)
	}
	return nil
}

func (c *CountMerge) Close() error { return operator.CloseAll(c.children) }
