package operators

import (
	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// Union drains its children in order and passes each block through
// unchanged. It finishes after its last child finishes.
type Union struct {
	operator.Base
	children []operator.Operator
	current  int
}

// NewUnion creates a Union over children.
func NewUnion(ctx *operator.Context, children ...operator.Operator) *Union {
	u := &Union{Base: operator.NewBase(ctx), children: children}
	u.skipFinished()
	return u
}

func (u *Union) Children() []operator.Operator { return u.children }

func (u *Union) Next() (*block.Block, error) {
	if err := u.CheckNotFinished(); err != nil {
		return nil, err
	}
	b, err := u.children[u.current].Next()
	if err != nil {
		return nil, u.Context().RecordError(err)
	}
	u.skipFinished()
	u.Context().RecordOutput(b)
	return b, nil
}

func (u *Union) skipFinished() {
	for u.current < len(u.children) && !u.children[u.current].HasNext() {
		u.current++
	}
	if u.current == len(u.children) {
		u.Finish()
	}
}

func (u *Union) Close() error { return operator.CloseAll(u.children) }
