// Package engine runs operator trees as drivers that feed exchange sinks,
// and schedules the drivers of a query on a worker pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandboxws/isotope/mpp/pkg/exchange"
	"github.com/sandboxws/isotope/mpp/pkg/metrics"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// Driver pulls blocks from the root of one operator tree and sends them to
// a sink, waiting on the sink's capacity signal before each pull.
//
// On success the sink is marked as having no more blocks. On any failure,
// including cancellation, the sink is aborted so that consumers never
// mistake a failed stream for a complete one.
type Driver struct {
	id     string
	root   operator.Operator
	sink   exchange.SinkHandle
	logger *slog.Logger
}

// NewDriver creates a driver for root writing into sink.
func NewDriver(id string, root operator.Operator, sink exchange.SinkHandle) *Driver {
	return &Driver{
		id:     id,
		root:   root,
		sink:   sink,
		logger: slog.Default().With("driver", id),
	}
}

func (d *Driver) ID() string { return d.id }

func (d *Driver) Sink() exchange.SinkHandle { return d.sink }

// Run drives the tree to completion. The tree is closed before Run returns.
func (d *Driver) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if cerr := d.root.Close(); cerr != nil {
			d.logger.Warn("close operator tree failed", "error", cerr)
		}
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		metrics.DriverLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if err := ValidateTree(d.root); err != nil {
		return d.fail(fmt.Errorf("invalid operator tree: %w", err))
	}

	for d.root.HasNext() {
		full := d.sink.IsFull()
		if !full.IsDone() {
			metrics.BackpressureWaits.Inc()
			if err := full.Wait(ctx); err != nil {
				return d.fail(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return d.fail(err)
		}

		b, err := d.root.Next()
		if err != nil {
			return d.fail(err)
		}
		if b != nil {
			d.sink.Send(b)
		}
	}

	d.sink.SetNoMoreBlocks()
	d.logger.Debug("driver finished", "elapsed", time.Since(start))
	return nil
}

func (d *Driver) fail(err error) error {
	d.sink.Abort()
	d.logger.Error("driver failed", "error", err)
	return fmt.Errorf("driver %s: %w", d.id, err)
}
