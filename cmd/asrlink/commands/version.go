package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// These variables are set at build time via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/MrWong99/asrlink/cmd/asrlink/commands.version=v1.0.0 \
//	  -X github.com/MrWong99/asrlink/cmd/asrlink/commands.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	return fmt.Sprintf("asrlink %s (%s) %s %s/%s",
		version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
