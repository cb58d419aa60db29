package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/ndgpu/internal/device"
)

type infoReport struct {
	device.Info
	State string `json:"state"`
}

func infoCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "info",
		Usage: "Show the selected backend and device",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print machine-readable JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			state, _ := e.State()
			report := infoReport{Info: e.Info(), State: state.String()}
			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode: %v", err), 1)
				}
				_, _ = fmt.Fprintln(os.Stdout, string(data))
				return nil
			}

			fmt.Printf("backend:      %s\n", report.Backend)
			fmt.Printf("device:       %s\n", report.Name)
			if report.Vendor != "" {
				fmt.Printf("vendor:       %s\n", report.Vendor)
			}
			if report.Driver != "" {
				fmt.Printf("driver:       %s\n", report.Driver)
			}
			if report.AdapterType != "" {
				fmt.Printf("adapter type: %s\n", report.AdapterType)
			}
			fmt.Printf("shader-f16:   %t\n", report.Features.ShaderF16)
			fmt.Printf("max groups:   %d\n", report.MaxGroups)
			fmt.Printf("state:        %s\n", report.State)
			return nil
		},
	}
}
