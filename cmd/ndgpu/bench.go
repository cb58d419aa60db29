package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/ndgpu/internal/device/wgpu"
	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/logger"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func benchCmd() *cli.Command {
	var (
		size  int64
		iters int64
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time elementwise additions",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "size",
				Aliases:     []string{"n"},
				Usage:       "elements per array",
				Value:       1 << 20,
				Destination: &size,
			},
			&cli.Int64Flag{
				Name:        "iters",
				Aliases:     []string{"k"},
				Usage:       "timed iterations",
				Value:       100,
				Destination: &iters,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if size <= 0 || iters <= 0 {
				return cli.Exit("error: --size and --iters must be positive", 1)
			}
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := runBench(ctx, e, int(size), int(iters))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: bench: %v", err), 1)
			}
			fmt.Printf("backend:     %s\n", e.Info().Backend)
			fmt.Printf("elements:    %d\n", size)
			fmt.Printf("iterations:  %d\n", iters)
			fmt.Printf("total:       %s\n", res.total.Round(time.Microsecond))
			fmt.Printf("per add:     %s\n", res.perOp().Round(time.Nanosecond))
			fmt.Printf("throughput:  %.2f Melem/s\n", res.throughput()/1e6)

			if dev, ok := e.Device().(*wgpu.Device); ok {
				allocated, peak, active := dev.MemoryStats()
				hits, misses := dev.PoolStats()
				fmt.Printf("memory:      %d bytes live, %d peak, %d buffers\n", allocated, peak, active)
				fmt.Printf("staging:     %d hits, %d misses\n", hits, misses)
			}
			return nil
		},
	}
}

type benchResult struct {
	elements int
	iters    int
	total    time.Duration
}

func (r benchResult) perOp() time.Duration {
	return r.total / time.Duration(r.iters)
}

func (r benchResult) throughput() float64 {
	return float64(r.elements) * float64(r.iters) / r.total.Seconds()
}

func runBench(ctx context.Context, e *engine.Engine, size, iters int) (benchResult, error) {
	log := logger.FromContext(ctx)

	a, err := e.Arange(0, float64(size), 1, tensor.Float32)
	if err != nil {
		return benchResult{}, err
	}
	defer a.Release()
	b, err := e.Ones(tensor.Shape{size})
	if err != nil {
		return benchResult{}, err
	}
	defer b.Release()
	out, err := e.New(tensor.Shape{size})
	if err != nil {
		return benchResult{}, err
	}
	defer out.Release()

	// Warm up the program cache and the uploads.
	if _, err := e.Apply(kernel.OpAdd, out, a, b); err != nil {
		return benchResult{}, err
	}
	if err := e.Sync(ctx); err != nil {
		return benchResult{}, err
	}

	log.Debug("bench started", "size", size, "iters", iters)
	start := time.Now()
	for range iters {
		if _, err := e.Apply(kernel.OpAdd, out, a, b); err != nil {
			return benchResult{}, err
		}
	}
	if err := e.Sync(ctx); err != nil {
		return benchResult{}, err
	}
	if err := out.Load(ctx); err != nil {
		return benchResult{}, err
	}
	res := benchResult{elements: size, iters: iters, total: time.Since(start)}
	log.Debug("bench finished", "total", res.total)
	return res, nil
}
