package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"endpointagent/internal/config"
	"endpointagent/internal/identitystore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether this host is enrolled and what identity is stored",
	Long: `Status reports the agent's persisted enrolment identity. It does not
start the agent or contact the manager; it only inspects local state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus() error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	path := filepath.Join(cfg.Agent.StateDir, "agent_info.db")
	store, err := identitystore.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	identity, ok, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}
	if !ok {
		pterm.Warning.Println("agent is not enrolled")
		return nil
	}

	pterm.Success.Printf("enrolled as %s\n", identity.UUID)
	pterm.Info.Printf("groups: %v\n", identity.Groups())
	pterm.Info.Printf("manager: %s:%d\n", cfg.Master.Host, cfg.Master.Port)
	return nil
}
