package operators

import (
	"fmt"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	helpers "github.com/sandboxws/isotope/mpp/pkg/arrow/helpers"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// Project keeps the listed value columns of each child block, in the given
// order. The time column is always kept.
type Project struct {
	operator.Base
	child   operator.Operator
	columns []int
}

// NewProject creates a Project over child keeping value columns by index.
func NewProject(ctx *operator.Context, child operator.Operator, columns ...int) *Project {
	return &Project{Base: operator.NewBase(ctx), child: child, columns: columns}
}

func (p *Project) Children() []operator.Operator { return []operator.Operator{p.child} }

func (p *Project) Next() (*block.Block, error) {
	if err := p.CheckNotFinished(); err != nil {
		return nil, err
	}
	in, err := p.child.Next()
	if !p.child.HasNext() {
		p.Finish()
	}
	if err != nil {
		return nil, p.Context().RecordError(err)
	}
	if in == nil {
		return nil, nil
	}
	defer in.Release()

	indices := make([]int, 0, len(p.columns)+1)
	indices = append(indices, 0)
	for _, c := range p.columns {
		if c < 0 || c >= in.ValueColumnCount() {
			return nil, p.Context().RecordError(fmt.Errorf("project: value column %d out of range [0, %d)", c, in.ValueColumnCount()))
		}
		indices = append(indices, c+1)
	}

	rec, err := helpers.Project(in.Record(), indices...)
	if err != nil {
		return nil, p.Context().RecordError(fmt.Errorf("project: %w", err))
	}
	defer rec.Release()

	out, err := block.FromRecord(rec)
	if err != nil {
		return nil, p.Context().RecordError(fmt.Errorf("project: %w", err))
	}
	p.Context().RecordOutput(out)
	return out, nil
}

func (p *Project) Close() error { return p.child.Close() }
