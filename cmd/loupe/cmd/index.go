package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [repo-root...]",
	Short: "Index repositories once and exit",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, loadedConfig, args)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	start := time.Now()
	files, err := a.scanAll(ctx)
	if err != nil {
		return err
	}
	if err := a.lexical.Flush(); err != nil {
		return err
	}
	if err := a.save(); err != nil {
		return err
	}

	stats, err := a.coord.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files, %d chunks in %s\n",
		files, stats.ChunkCount, time.Since(start).Round(time.Millisecond))

	snap := a.metrics.Snapshot()
	if snap.ParseErrors > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "parse errors: %d files (chunks still indexed)\n", snap.ParseErrors)
	}
	if snap.QuarantineSize > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "quarantined: %d chunks (embedder failures)\n", snap.QuarantineSize)
	}
	return nil
}
