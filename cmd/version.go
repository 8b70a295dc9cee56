package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/antenna/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		fmt.Fprintf(cmd.OutOrStdout(), "antenna %s\n", info.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  build:     %s (%s)\n", info.Build, info.Branch)
		fmt.Fprintf(cmd.OutOrStdout(), "  built at:  %s\n", info.BuildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "  platform:  %s, %s\n", info.Platform, info.GoVersion)
	},
}
