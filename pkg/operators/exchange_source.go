package operators

import (
	"errors"
	"fmt"
	"io"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/exchange"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// ExchangeSource is a leaf operator that pulls blocks from a SourceHandle.
// Each Next pulls one block and may block until the producer supplies it.
type ExchangeSource struct {
	operator.Base
	source exchange.SourceHandle
}

// NewExchangeSource creates an ExchangeSource reading from source.
func NewExchangeSource(ctx *operator.Context, source exchange.SourceHandle) *ExchangeSource {
	return &ExchangeSource{Base: operator.NewBase(ctx), source: source}
}

func (e *ExchangeSource) Next() (*block.Block, error) {
	if err := e.CheckNotFinished(); err != nil {
		return nil, err
	}
	ctx := e.Context()
	b, err := e.source.Pull(ctx.Ctx)
	if errors.Is(err, io.EOF) {
		e.Finish()
		return nil, nil
	}
	if err != nil {
		return nil, ctx.RecordError(fmt.Errorf("exchange source %s: %w", ctx.PlanNodeID, err))
	}
	ctx.RecordOutput(b)
	return b, nil
}

func (e *ExchangeSource) Close() error { return nil }
