package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coldquant/accumscan/internal/scan"
)

func scanCmd(ctx context.Context) *cobra.Command {
	var universe, limit, deadlineMS int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one tiered scan over the metadata universe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.scanner.Scan(cmd.Context(), scan.Options{
				UniverseSize: universe,
				FinalLimit:   limit,
				DeadlineMS:   deadlineMS,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	addScanFlags(cmd.Flags(), &universe, &limit, &deadlineMS)
	return cmd
}

func signalCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <asset>",
		Short: "Compute the accumulation signal for one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sig, err := a.pipe.ComputeSignal(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			return printJSON(sig)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	return nil
}
