package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, loadedConfig, nil)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	stats, err := a.coord.Stats(ctx)
	if err != nil {
		return err
	}
	snap := a.metrics.Snapshot()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "data dir:    %s\n", a.dataDir)
	fmt.Fprintf(out, "repos:       %d\n", stats.RepoCount)
	fmt.Fprintf(out, "files:       %d\n", stats.FileCount)
	fmt.Fprintf(out, "chunks:      %d\n", stats.ChunkCount)
	fmt.Fprintf(out, "vectors:     %d\n", a.vector.Count())
	fmt.Fprintf(out, "quarantined: %d\n", snap.QuarantineSize)
	fmt.Fprintf(out, "embedder:    %s", a.embedder.ModelName())
	if a.embedder.Available(ctx) {
		fmt.Fprintln(out, " (ready)")
	} else {
		fmt.Fprintln(out, " (unavailable)")
	}
	return nil
}
