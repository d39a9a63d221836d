package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"endpointagent/internal/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the agent's version, build time, git commit and Go version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("endpoint-agent %s\n", version.GetVersion())
		fmt.Printf("API Version: %s\n", version.APIVersion)
		fmt.Printf("Build Time: %s\n", version.BuildTime)
		fmt.Printf("Git Commit: %s\n", version.GitCommit)
		fmt.Printf("Go Version: %s\n", version.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
