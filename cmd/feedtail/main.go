// Command feedtail streams BTSE futures market-data topics over resilient
// WebSocket channels, printing each message and optionally recording it to
// PostgreSQL/TimescaleDB.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/btse-feed/internal/version"
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:           "feedtail",
	Short:         "Tail BTSE market-data topics over WebSocket",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version.String()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
