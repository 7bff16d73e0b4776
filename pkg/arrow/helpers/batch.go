// Package helpers provides convenience functions for working with Arrow records.
package helpers

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ColumnIndex returns the index of a named column, or -1 if not found.
func ColumnIndex(rec arrow.Record, name string) int {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return -1
	}
	return indices[0]
}

// ColumnNames returns the list of column names in a record's schema.
func ColumnNames(rec arrow.Record) []string {
	schema := rec.Schema()
	names := make([]string, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		names[i] = schema.Field(i).Name
	}
	return names
}

// Project creates a new record with only the columns at the given indices.
// The caller is responsible for releasing the returned record.
func Project(rec arrow.Record, indices ...int) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, len(indices))
	arrays := make([]arrow.Array, 0, len(indices))

	for _, idx := range indices {
		if idx < 0 || idx >= int(rec.NumCols()) {
			return nil, fmt.Errorf("column index %d out of range [0, %d)", idx, rec.NumCols())
		}
		fields = append(fields, rec.Schema().Field(idx))
		arrays = append(arrays, rec.Column(idx))
	}

	schema := arrow.NewSchema(fields, nil)
	return array.NewRecord(schema, arrays, rec.NumRows()), nil
}

// RecordSize returns the total length of all buffers referenced by rec.
func RecordSize(rec arrow.Record) int64 {
	var size int64
	for _, col := range rec.Columns() {
		size += dataSize(col.Data())
	}
	return size
}

func dataSize(data arrow.ArrayData) int64 {
	var size int64
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += int64(buf.Len())
		}
	}
	for _, child := range data.Children() {
		size += dataSize(child)
	}
	return size
}
