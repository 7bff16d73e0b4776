package block

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrTypeMismatch is returned when a value is written to a column of a
// different declared type.
var ErrTypeMismatch = errors.New("column type mismatch")

// Builder appends rows position by position and finalizes them into a Block.
//
// For each row, write the time and exactly one value (or null) per column,
// then call DeclarePosition.
type Builder struct {
	fields    []Field
	schema    *arrow.Schema
	time      *array.Int64Builder
	cols      []*ColumnBuilder
	positions int
	err       error
}

// ColumnBuilder writes values into one value column of a Builder.
type ColumnBuilder struct {
	field Field
	b     array.Builder
	owner *Builder
}

// NewBuilder creates a builder for blocks with the given value columns.
func NewBuilder(alloc memory.Allocator, fields ...Field) *Builder {
	bb := &Builder{
		fields: fields,
		schema: arrowSchema(fields),
		time:   array.NewInt64Builder(alloc),
		cols:   make([]*ColumnBuilder, len(fields)),
	}
	for i, f := range fields {
		bb.cols[i] = &ColumnBuilder{
			field: f,
			b:     array.NewBuilder(alloc, f.Type.ArrowType()),
			owner: bb,
		}
	}
	return bb
}

// WriteTime sets the timestamp of the current row.
func (b *Builder) WriteTime(ts int64) { b.time.Append(ts) }

// Column returns the builder for value column i.
func (b *Builder) Column(i int) *ColumnBuilder { return b.cols[i] }

// Positions returns the number of declared rows.
func (b *Builder) Positions() int { return b.positions }

// DeclarePosition completes the current row. Every column, including time,
// must have received exactly one value since the previous row.
func (b *Builder) DeclarePosition() error {
	if b.err != nil {
		return b.err
	}
	want := b.positions + 1
	if n := b.time.Len(); n != want {
		return fmt.Errorf("declare position %d: time column has %d values", b.positions, n)
	}
	for _, c := range b.cols {
		if n := c.b.Len(); n != want {
			return fmt.Errorf("declare position %d: column %q has %d values", b.positions, c.field.Name, n)
		}
	}
	b.positions = want
	return nil
}

// Build finalizes the declared rows into a Block and resets the builder for
// reuse. The caller owns the returned block.
func (b *Builder) Build() (*Block, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.time.Len() != b.positions {
		return nil, fmt.Errorf("build: row %d was written but not declared", b.positions)
	}

	arrays := make([]arrow.Array, 0, len(b.cols)+1)
	arrays = append(arrays, b.time.NewArray())
	for _, c := range b.cols {
		arrays = append(arrays, c.b.NewArray())
	}
	rec := array.NewRecord(b.schema, arrays, int64(b.positions))
	for _, a := range arrays {
		a.Release()
	}

	b.positions = 0
	return &Block{rec: rec, fields: b.fields}, nil
}

// Release frees the builder's buffers.
func (b *Builder) Release() {
	b.time.Release()
	for _, c := range b.cols {
		c.b.Release()
	}
}

func (c *ColumnBuilder) mismatch(got Type) {
	if c.owner.err == nil {
		c.owner.err = fmt.Errorf("column %q declared %s, written %s: %w", c.field.Name, c.field.Type, got, ErrTypeMismatch)
	}
}

func (c *ColumnBuilder) WriteInt32(v int32) {
	if ib, ok := c.b.(*array.Int32Builder); ok {
		ib.Append(v)
		return
	}
	c.mismatch(TypeInt32)
}

func (c *ColumnBuilder) WriteInt64(v int64) {
	if ib, ok := c.b.(*array.Int64Builder); ok {
		ib.Append(v)
		return
	}
	c.mismatch(TypeInt64)
}

func (c *ColumnBuilder) WriteFloat(v float32) {
	if fb, ok := c.b.(*array.Float32Builder); ok {
		fb.Append(v)
		return
	}
	c.mismatch(TypeFloat)
}

func (c *ColumnBuilder) WriteDouble(v float64) {
	if fb, ok := c.b.(*array.Float64Builder); ok {
		fb.Append(v)
		return
	}
	c.mismatch(TypeDouble)
}

func (c *ColumnBuilder) WriteBoolean(v bool) {
	if bb, ok := c.b.(*array.BooleanBuilder); ok {
		bb.Append(v)
		return
	}
	c.mismatch(TypeBoolean)
}

func (c *ColumnBuilder) WriteText(v string) {
	if sb, ok := c.b.(*array.StringBuilder); ok {
		sb.Append(v)
		return
	}
	c.mismatch(TypeText)
}

// AppendNull writes a null for the current row.
func (c *ColumnBuilder) AppendNull() { c.b.AppendNull() }
