package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/config"
	"github.com/sandboxws/isotope/mpp/pkg/connectors"
	"github.com/sandboxws/isotope/mpp/pkg/engine"
	"github.com/sandboxws/isotope/mpp/pkg/exchange"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
	"github.com/sandboxws/isotope/mpp/pkg/operators"
	"github.com/sandboxws/isotope/mpp/pkg/operators/schema"
)

const seriesPerBlock = 64

type countOptions struct {
	shards  int
	series  int
	devices int
	level   int
	grouped bool
}

func runCount(ctx context.Context, cfg *config.Config, alloc memory.Allocator, opts countOptions, out io.Writer) error {
	queryID := exchange.NewQueryID()
	mgr := exchange.NewManager(cfg.Exchange.Capacity())

	workers := cfg.Scheduler.Workers
	if need := opts.shards + 1; workers < need {
		slog.Info("raising worker count to fit query", "configured", workers, "workers", need)
		workers = need
	}
	sched, err := engine.NewScheduler(workers)
	if err != nil {
		return err
	}
	defer sched.Release()

	mode := schema.MergeFlatSum
	if opts.grouped {
		mode = schema.MergeGroupedByKey
	}

	var (
		drivers  []*engine.Driver
		children []operator.Operator
	)
	for shard := 0; shard < opts.shards; shard++ {
		blocks, err := shardSeries(alloc, shard, opts.series, opts.devices)
		if err != nil {
			return err
		}
		scan := operators.NewBlockSource(opCtx(ctx, alloc, fmt.Sprintf("scan-%d", shard), "BlockSource"), blocks...)

		var root operator.Operator
		countID := fmt.Sprintf("count-%d", shard)
		if opts.grouped {
			root = schema.NewLevelCount(opCtx(ctx, alloc, countID, "LevelCount"), scan, 0, opts.level)
		} else {
			root = schema.NewSeriesCount(opCtx(ctx, alloc, countID, "SeriesCount"), scan)
		}

		sink := mgr.CreateSink(queryID)
		drivers = append(drivers, engine.NewDriver(fmt.Sprintf("shard-%d", shard), root, sink))

		source, err := sink.Source(exchange.DefaultPartition)
		if err != nil {
			return err
		}
		children = append(children, operators.NewExchangeSource(
			opCtx(ctx, alloc, fmt.Sprintf("exchange-%d", shard), "ExchangeSource"), source))
	}

	merge := schema.NewCountMerge(opCtx(ctx, alloc, "merge", "CountMerge"), mode, children...)
	resultSink := mgr.CreateSink(queryID)
	drivers = append(drivers, engine.NewDriver("merge", merge, resultSink))

	results, err := resultSink.Source(exchange.DefaultPartition)
	if err != nil {
		return err
	}

	slog.Info("running count query", "query", queryID, "shards", opts.shards, "mode", mode)
	if err := sched.Run(ctx, func(err error) { mgr.ReleaseQuery(queryID, err) }, drivers...); err != nil {
		return fmt.Errorf("query %s: %w", queryID, err)
	}
	defer mgr.CloseQuery(queryID)

	console := connectors.NewConsole(0)
	console.SetWriter(out)
	for {
		b, err := results.Pull(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = console.WriteBlock(b)
		b.Release()
		if err != nil {
			return err
		}
	}
}

func opCtx(ctx context.Context, alloc memory.Allocator, id, typ string) *operator.Context {
	return operator.NewContext(ctx, alloc, id, typ)
}

// shardSeries builds the series metadata blocks of one shard. Series i is
// named root.sg.d<i mod devices>.s<shard>_<i>.
func shardSeries(alloc memory.Allocator, shard, series, devices int) ([]*block.Block, error) {
	bb := block.NewBuilder(alloc, block.Field{Name: "path", Type: block.TypeText})
	defer bb.Release()

	var blocks []*block.Block
	fail := func(err error) ([]*block.Block, error) {
		for _, b := range blocks {
			b.Release()
		}
		return nil, err
	}
	for i := 0; i < series; i++ {
		bb.WriteTime(int64(i))
		bb.Column(0).WriteText(fmt.Sprintf("root.sg.d%d.s%d_%d", i%devices, shard, i))
		if err := bb.DeclarePosition(); err != nil {
			return fail(err)
		}
		if bb.Positions() == seriesPerBlock || i == series-1 {
			b, err := bb.Build()
			if err != nil {
				return fail(err)
			}
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}
