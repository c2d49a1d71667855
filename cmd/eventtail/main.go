// eventtail connects to a realtime events endpoint and logs every event and
// every cache invalidation it triggers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	realtime "github.com/kitaflow/realtime-go-sdk"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "eventtail",
	Short:         "Tail a realtime events stream",
	Version:       realtime.VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the SDK version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "eventtail "+realtime.VERSION)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
