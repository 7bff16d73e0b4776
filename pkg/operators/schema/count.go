// Package schema implements the series-count operators that answer
// COUNT TIMESERIES style queries and merge their per-shard partial results.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// CountField is the count column of count results.
var CountField = block.Field{Name: "count", Type: block.TypeInt32}

// LevelField is the key column of grouped count results.
var LevelField = block.Field{Name: "level", Type: block.TypeText}

// PathSeparator separates the nodes of a series path.
const PathSeparator = "."

// SeriesCount counts the rows produced by its child and emits them as a
// single-row [count] block.
type SeriesCount struct {
	operator.Base
	child operator.Operator
}

// NewSeriesCount creates a SeriesCount over child.
func NewSeriesCount(ctx *operator.Context, child operator.Operator) *SeriesCount {
	return &SeriesCount{Base: operator.NewBase(ctx), child: child}
}

func (s *SeriesCount) Children() []operator.Operator { return []operator.Operator{s.child} }

func (s *SeriesCount) Next() (*block.Block, error) {
	if err := s.CheckNotFinished(); err != nil {
		return nil, err
	}
	s.Finish()

	var count int32
	for s.child.HasNext() {
		b, err := s.child.Next()
		if err != nil {
			return nil, s.Context().RecordError(err)
		}
		if b == nil {
			continue
		}
		count += int32(b.PositionCount())
		b.Release()
	}

	bb := block.NewBuilder(s.Context().Alloc, CountField)
	defer bb.Release()
	bb.WriteTime(0)
	bb.Column(0).WriteInt32(count)
	out, err := buildOne(bb)
	if err != nil {
		return nil, s.Context().RecordError(err)
	}
	s.Context().RecordOutput(out)
	return out, nil
}

func (s *SeriesCount) Close() error { return s.child.Close() }

// LevelCount groups the series paths produced by its child by their prefix
// up to a node level and emits one [level, count] row per prefix, sorted by
// prefix. Paths with fewer than level+1 nodes are not counted.
type LevelCount struct {
	operator.Base
	child      operator.Operator
	pathColumn int
	level      int
}

// NewLevelCount creates a LevelCount reading paths from the TEXT value column
// pathColumn of child's blocks.
func NewLevelCount(ctx *operator.Context, child operator.Operator, pathColumn, level int) *LevelCount {
	return &LevelCount{Base: operator.NewBase(ctx), child: child, pathColumn: pathColumn, level: level}
}

func (l *LevelCount) Children() []operator.Operator { return []operator.Operator{l.child} }

func (l *LevelCount) Next() (*block.Block, error) {
	if err := l.CheckNotFinished(); err != nil {
		return nil, err
	}
	l.Finish()

	counts := make(map[string]int32)
	for l.child.HasNext() {
		b, err := l.child.Next()
		if err != nil {
			return nil, l.Context().RecordError(err)
		}
		if b == nil {
			continue
		}
		err = l.accumulate(b, counts)
		b.Release()
		if err != nil {
			return nil, l.Context().RecordError(err)
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bb := block.NewBuilder(l.Context().Alloc, LevelField, CountField)
	defer bb.Release()
	for _, k := range keys {
		bb.WriteTime(0)
		bb.Column(0).WriteText(k)
		bb.Column(1).WriteInt32(counts[k])
		if err := bb.DeclarePosition(); err != nil {
			return nil, l.Context().RecordError(err)
		}
	}
	out, err := bb.Build()
	if err != nil {
		return nil, l.Context().RecordError(err)
	}
	l.Context().RecordOutput(out)
	return out, nil
}

func (l *LevelCount) accumulate(b *block.Block, counts map[string]int32) error {
	if l.pathColumn >= b.ValueColumnCount() || b.Fields()[l.pathColumn].Type != block.TypeText {
		return fmt.Errorf("level count: column %d is not a TEXT path column", l.pathColumn)
	}
	for pos := 0; pos < b.PositionCount(); pos++ {
		if b.IsNull(l.pathColumn, pos) {
			continue
		}
		if prefix, ok := LevelPrefix(b.Text(l.pathColumn, pos), l.level); ok {
			counts[prefix]++
		}
	}
	return nil
}

func (l *LevelCount) Close() error { return l.child.Close() }

// LevelPrefix cuts path after the node at index level. It reports false if
// path has no node at that level.
func LevelPrefix(path string, level int) (string, bool) {
	if level < 0 {
		return "", false
	}
	nodes := strings.Split(path, PathSeparator)
	if len(nodes) <= level {
		return "", false
	}
	return strings.Join(nodes[:level+1], PathSeparator), true
}

func buildOne(bb *block.Builder) (*block.Block, error) {
	if err := bb.DeclarePosition(); err != nil {
		return nil, err
	}
	return bb.Build()
}
