// Package operator defines the pull-based Operator contract that all
// execution operators implement.
package operator

import (
	"errors"

	"github.com/sandboxws/isotope/mpp/pkg/block"
)

// ErrFinished is returned by Next on an operator that has already finished.
var ErrFinished = errors.New("operator already finished")

// Operator is a pull-based execution unit.
//
// HasNext and IsFinished report only the operator's finished flag; whether a
// Next call will block is up to the concrete operator. Next returns the next
// block, or nil when the call produced no rows.
type Operator interface {
	Context() *Context

	HasNext() bool

	Next() (*block.Block, error)

	IsFinished() bool

	// Close releases resources, including those of any children.
	Close() error
}

// Parent is implemented by operators that own child operators.
type Parent interface {
	Children() []Operator
}

// Base carries the context and finished flag shared by all operators.
type Base struct {
	ctx      *Context
	finished bool
}

// NewBase creates a Base for an operator running under ctx.
func NewBase(ctx *Context) Base { return Base{ctx: ctx} }

func (b *Base) Context() *Context { return b.ctx }

func (b *Base) HasNext() bool { return !b.finished }

func (b *Base) IsFinished() bool { return b.finished }

// Finish sets the finished flag.
func (b *Base) Finish() { b.finished = true }

// CheckNotFinished returns ErrFinished if the operator has finished.
func (b *Base) CheckNotFinished() error {
	if b.finished {
		return ErrFinished
	}
	return nil
}

// CloseAll closes every operator and returns the first error.
func CloseAll(ops []Operator) error {
	var first error
	for _, op := range ops {
		if err := op.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
