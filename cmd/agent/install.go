package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// install and uninstall round out the CLI surface; the platform service
// wrappers they would drive (systemd units, Windows service registration)
// are an external packaging concern, not part of this agent's runtime.

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Point to the platform package for service installation",
	Long: `Install does not itself register endpoint-agent with the host's service
manager (systemd on Linux, the Service Control Manager on Windows). It
prints a notice that the unit/service definition and its registration are
supplied by the platform packaging for this build, not by this binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pterm.Info.Println("service registration is handled by this build's platform package, not by endpoint-agent itself")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Point to the platform package for service removal",
	RunE: func(cmd *cobra.Command, args []string) error {
		pterm.Info.Println("service deregistration is handled by this build's platform package, not by endpoint-agent itself")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
