package operator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/metrics"
)

// Metrics tracks basic operator-level metrics.
type Metrics struct {
	BlocksProcessed atomic.Int64
	RowsProcessed   atomic.Int64
	Errors          atomic.Int64
}

// Context provides the execution environment for an operator.
type Context struct {
	// Go context for cancellation of blocking pulls.
	Ctx context.Context

	// Logger scoped to this operator.
	Logger *slog.Logger

	// Metrics for this operator instance.
	Metrics *Metrics

	// Alloc is the Arrow memory allocator to use for output blocks.
	Alloc memory.Allocator

	// PlanNodeID identifies the plan node this operator executes.
	PlanNodeID string

	// OperatorType is the human-readable operator kind.
	OperatorType string
}

// NewContext creates a new operator context with defaults.
func NewContext(ctx context.Context, alloc memory.Allocator, planNodeID, operatorType string) *Context {
	return &Context{
		Ctx:          ctx,
		Logger:       slog.Default().With("operator", planNodeID, "type", operatorType),
		Metrics:      &Metrics{},
		Alloc:        alloc,
		PlanNodeID:   planNodeID,
		OperatorType: operatorType,
	}
}

// Done returns the context's Done channel for shutdown signaling.
func (c *Context) Done() <-chan struct{} {
	return c.Ctx.Done()
}

// RecordOutput accounts for a block emitted by the operator.
func (c *Context) RecordOutput(b *block.Block) {
	if b == nil {
		return
	}
	rows := int64(b.PositionCount())
	c.Metrics.BlocksProcessed.Add(1)
	c.Metrics.RowsProcessed.Add(rows)
	metrics.BlocksProcessed.WithLabelValues(c.OperatorType).Inc()
	metrics.RowsProcessed.WithLabelValues(c.OperatorType).Add(float64(rows))
}

// RecordError accounts for a failed Next call and returns err unchanged.
func (c *Context) RecordError(err error) error {
	if err == nil {
		return nil
	}
	c.Metrics.Errors.Add(1)
	metrics.Errors.WithLabelValues(c.OperatorType).Inc()
	return err
}
