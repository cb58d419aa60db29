package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/random"
	"github.com/born-ml/ndgpu/internal/tensor"
)

func demoCmd() *cli.Command {
	var seed int64

	return &cli.Command{
		Name:  "demo",
		Usage: "Run a short tour of array operations",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "generator seed",
				Value:       2025,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := runDemo(ctx, e, uint64(seed)); err != nil { //nolint:gosec // G115: seed bits
				return cli.Exit(fmt.Sprintf("error: demo: %v", err), 1)
			}
			return nil
		},
	}
}

func runDemo(ctx context.Context, e *engine.Engine, seed uint64) error {
	x, err := e.FromValues(tensor.Shape{2, 3}, tensor.Float32, []float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		return err
	}
	row, err := e.FromValues(tensor.Shape{3}, tensor.Float32, []float64{10, 20, 30})
	if err != nil {
		return err
	}
	if err := show(ctx, "x", x); err != nil {
		return err
	}

	sum, err := e.Add(x, row)
	if err != nil {
		return err
	}
	if err := show(ctx, "x + [10 20 30]", sum); err != nil {
		return err
	}

	scaled, err := e.Mul(x, engine.Scalar(0.5))
	if err != nil {
		return err
	}
	if err := show(ctx, "x * 0.5", scaled); err != nil {
		return err
	}

	total, err := e.ReduceSum(sum)
	if err != nil {
		return err
	}
	if err := show(ctx, "sum(x + row)", total); err != nil {
		return err
	}

	g, err := random.New(e, 6, random.WithSeed(seed))
	if err != nil {
		return err
	}
	defer g.Release()

	u, err := g.Next(tensor.Float32)
	if err != nil {
		return err
	}
	if err := show(ctx, "uniform", u); err != nil {
		return err
	}
	n, err := g.Normal(tensor.Float32)
	if err != nil {
		return err
	}
	if err := show(ctx, "normal", n); err != nil {
		return err
	}

	st := e.Stats()
	fmt.Printf("\n%d programs, %d layouts, %d dispatches in %d submissions\n",
		st.Programs, st.Layouts, st.Dispatches, st.Submissions)
	return e.Sync(ctx)
}

func show(ctx context.Context, label string, a *engine.Array) error {
	v, err := a.Values(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s %v %s %v\n", label, []int(a.Shape()), a.DType(), v)
	return nil
}
