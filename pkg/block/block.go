// Package block defines the DataBlock, the immutable columnar batch that
// flows between operators and across exchange buffers.
package block

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	helpers "github.com/sandboxws/isotope/mpp/pkg/arrow/helpers"
)

// TimeColumnName is the name of the leading time column of every block.
const TimeColumnName = "time"

// Block is an immutable batch of time-aligned rows: one int64 time column
// followed by typed value columns, all with the same position count.
//
// A Block wraps a reference-counted Arrow record. Whoever holds a Block owns
// one reference and must Release it when done.
type Block struct {
	rec    arrow.Record
	fields []Field
}

// FromRecord adopts an Arrow record as a Block. The record's first column
// must be an int64 column named "time"; the remaining columns must use the
// supported value types. The record is retained on success.
func FromRecord(rec arrow.Record) (*Block, error) {
	schema := rec.Schema()
	if schema.NumFields() == 0 {
		return nil, fmt.Errorf("record has no time column")
	}
	tf := schema.Field(0)
	if tf.Name != TimeColumnName || tf.Type.ID() != arrow.INT64 {
		return nil, fmt.Errorf("first column must be int64 %q, got %s %s", TimeColumnName, tf.Name, tf.Type)
	}

	fields := make([]Field, 0, schema.NumFields()-1)
	for i := 1; i < schema.NumFields(); i++ {
		f := schema.Field(i)
		t, err := TypeFromArrow(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		fields = append(fields, Field{Name: f.Name, Type: t})
	}

	rec.Retain()
	return &Block{rec: rec, fields: fields}, nil
}

// PositionCount returns the number of rows.
func (b *Block) PositionCount() int { return int(b.rec.NumRows()) }

// ValueColumnCount returns the number of value columns, excluding time.
func (b *Block) ValueColumnCount() int { return len(b.fields) }

// Fields returns the value column descriptors.
func (b *Block) Fields() []Field { return b.fields }

// Types returns the value column type tags.
func (b *Block) Types() []Type {
	types := make([]Type, len(b.fields))
	for i, f := range b.fields {
		types[i] = f.Type
	}
	return types
}

// Time returns the timestamp at pos.
func (b *Block) Time(pos int) int64 {
	return b.rec.Column(0).(*array.Int64).Value(pos)
}

// Column returns the Arrow array backing value column col.
func (b *Block) Column(col int) arrow.Array { return b.rec.Column(col + 1) }

// IsNull reports whether value column col is null at pos.
func (b *Block) IsNull(col, pos int) bool { return b.Column(col).IsNull(pos) }

func (b *Block) Int32(col, pos int) int32 { return b.Column(col).(*array.Int32).Value(pos) }

func (b *Block) Int64(col, pos int) int64 { return b.Column(col).(*array.Int64).Value(pos) }

func (b *Block) Float32(col, pos int) float32 { return b.Column(col).(*array.Float32).Value(pos) }

func (b *Block) Float64(col, pos int) float64 { return b.Column(col).(*array.Float64).Value(pos) }

func (b *Block) Bool(col, pos int) bool { return b.Column(col).(*array.Boolean).Value(pos) }

func (b *Block) Text(col, pos int) string { return b.Column(col).(*array.String).Value(pos) }

// Record returns the underlying Arrow record. It is not retained.
func (b *Block) Record() arrow.Record { return b.rec }

// SizeInBytes returns the size of the block's buffers, used for exchange
// capacity accounting.
func (b *Block) SizeInBytes() int64 { return helpers.RecordSize(b.rec) }

// Retain adds a reference to the block.
func (b *Block) Retain() { b.rec.Retain() }

// Release drops a reference to the block.
func (b *Block) Release() { b.rec.Release() }
