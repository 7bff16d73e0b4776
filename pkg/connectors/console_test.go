package connectors

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/mpp/pkg/block"
)

func resultBlock(t *testing.T, alloc memory.Allocator) *block.Block {
	t.Helper()
	bb := block.NewBuilder(alloc,
		block.Field{Name: "level", Type: block.TypeText},
		block.Field{Name: "count", Type: block.TypeInt32})
	defer bb.Release()
	for i, key := range []string{"root.sg.d1", "root.sg.d2", "root.sg.d3"} {
		bb.WriteTime(0)
		bb.Column(0).WriteText(key)
		bb.Column(1).WriteInt32(int32(i + 1))
		if err := bb.DeclarePosition(); err != nil {
			t.Fatal(err)
		}
	}
	b, err := bb.Build()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestConsoleWriteBlock(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	b := resultBlock(t, alloc)
	defer b.Release()

	var buf bytes.Buffer
	c := NewConsole(0)
	c.SetWriter(&buf)
	if err := c.WriteBlock(b); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"| time | level", "count |", "root.sg.d2", "| 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if c.Rows() != 3 {
		t.Errorf("expected 3 rows counted, got %d", c.Rows())
	}
}

func TestConsoleMaxRows(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	b := resultBlock(t, alloc)
	defer b.Release()

	var buf bytes.Buffer
	c := NewConsole(1)
	c.SetWriter(&buf)
	if err := c.WriteBlock(b); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Contains(out, "root.sg.d2") {
		t.Errorf("expected rows past the limit to be hidden:\n%s", out)
	}
	if !strings.Contains(out, "... (2 more rows)") {
		t.Errorf("expected truncation notice:\n%s", out)
	}
}
