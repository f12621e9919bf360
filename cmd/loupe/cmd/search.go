package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loupe-dev/loupe/internal/search"
)

var (
	flagTopK int
	flagRepo string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one query against the persisted index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringVar(&flagRepo, "repo", "", "restrict to one repository id or root")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	a, err := openApp(ctx, loadedConfig, nil)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	// Rebuild the in-memory symbol map and repair any index drift before
	// answering.
	if _, err := a.coord.Reconcile(ctx); err != nil {
		return err
	}

	resp, err := a.engine.Search(ctx, search.Request{
		Query:      query,
		TopK:       flagTopK,
		RepoFilter: flagRepo,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Degraded {
		fmt.Fprintf(out, "note: degraded lanes: %s\n", strings.Join(resp.DegradedLanes, ", "))
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}

	for i, r := range resp.Results {
		marker := ""
		if r.SymbolHit {
			marker = " [symbol]"
		}
		fmt.Fprintf(out, "%2d. %s:%d-%d%s", i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, marker)
		if r.Chunk.Symbol != "" {
			fmt.Fprintf(out, "  %s", r.Chunk.Symbol)
		}
		fmt.Fprintf(out, "  (score %.4f)\n", r.Score)

		// First non-empty line of the chunk as a preview.
		for _, line := range strings.Split(r.Chunk.Content, "\n") {
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(out, "    %s\n", strings.TrimSpace(line))
				break
			}
		}
	}
	fmt.Fprintf(out, "\n%d results in %s\n", len(resp.Results), resp.Took.Round(time.Microsecond))
	return nil
}
