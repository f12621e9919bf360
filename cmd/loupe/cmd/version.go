package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loupe-dev/loupe/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the loupe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loupe %s (%s)\n", version.Version, version.Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
