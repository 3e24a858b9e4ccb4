package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var configPath string

// Execute runs the accumscan CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "accumscan",
		Short: "Accumulation/distribution scanner for tradable assets",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (defaults built in)")

	root.AddCommand(serveCmd(ctx))
	root.AddCommand(scanCmd(ctx))
	root.AddCommand(signalCmd(ctx))

	return root.ExecuteContext(ctx)
}

// addScanFlags registers the flags shared by the scan command and the serve
// command's scan endpoint defaults.
func addScanFlags(fs *pflag.FlagSet, universe, limit, deadlineMS *int) {
	fs.IntVar(universe, "universe", 0, "cap on universe size (0 = full snapshot)")
	fs.IntVar(limit, "limit", 0, "final recommendation limit (0 = config default)")
	fs.IntVar(deadlineMS, "deadline-ms", 0, "scan deadline in milliseconds (0 = config default)")
}
