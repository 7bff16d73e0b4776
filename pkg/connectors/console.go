// Package connectors implements output connectors for query results.
package connectors

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sandboxws/isotope/mpp/pkg/block"
)

// Console prints DataBlocks as aligned text tables.
type Console struct {
	maxRows int
	writer  io.Writer
	count   int64
}

// NewConsole creates a Console writing to stdout. maxRows limits the rows
// printed per block; zero prints all rows.
func NewConsole(maxRows int) *Console {
	return &Console{maxRows: maxRows, writer: os.Stdout}
}

// SetWriter overrides the output writer (default: os.Stdout).
func (c *Console) SetWriter(w io.Writer) { c.writer = w }

// Rows returns the number of rows written so far.
func (c *Console) Rows() int64 { return c.count }

// WriteBlock renders b as a table with the time column first.
func (c *Console) WriteBlock(b *block.Block) error {
	shown := b.PositionCount()
	if c.maxRows > 0 && shown > c.maxRows {
		shown = c.maxRows
	}

	header := []string{block.TimeColumnName}
	for _, f := range b.Fields() {
		header = append(header, f.Name)
	}
	rows := make([][]string, shown)
	for pos := range rows {
		row := []string{strconv.FormatInt(b.Time(pos), 10)}
		for col := 0; col < b.ValueColumnCount(); col++ {
			row = append(row, cell(b, col, pos))
		}
		rows[pos] = row
	}

	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, v := range row {
			widths[i] = max(widths[i], len(v))
		}
	}

	w := bufio.NewWriter(c.writer)
	writeRow(w, header, widths)
	dashes := make([]string, len(widths))
	for i, n := range widths {
		dashes[i] = strings.Repeat("-", n)
	}
	fmt.Fprintf(w, "|-%s-|\n", strings.Join(dashes, "-|-"))
	for _, row := range rows {
		writeRow(w, row, widths)
	}
	if hidden := b.PositionCount() - shown; hidden > 0 {
		fmt.Fprintf(w, "... (%d more rows)\n", hidden)
	}
	fmt.Fprintln(w)
	if err := w.Flush(); err != nil {
		return err
	}

	c.count += int64(b.PositionCount())
	return nil
}

func writeRow(w io.Writer, cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, v := range cells {
		padded[i] = v + strings.Repeat(" ", widths[i]-len(v))
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(padded, " | "))
}

func cell(b *block.Block, col, pos int) string {
	if b.IsNull(col, pos) {
		return "NULL"
	}
	switch b.Fields()[col].Type {
	case block.TypeInt32:
		return strconv.FormatInt(int64(b.Int32(col, pos)), 10)
	case block.TypeInt64:
		return strconv.FormatInt(b.Int64(col, pos), 10)
	case block.TypeFloat:
		return strconv.FormatFloat(float64(b.Float32(col, pos)), 'f', 4, 32)
	case block.TypeDouble:
		return strconv.FormatFloat(b.Float64(col, pos), 'f', 4, 64)
	case block.TypeBoolean:
		return strconv.FormatBool(b.Bool(col, pos))
	case block.TypeText:
		return b.Text(col, pos)
	default:
		return "?"
	}
}
