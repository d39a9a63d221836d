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

var (
	registerUUID   string
	registerKey    string
	registerGroups []string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Enrol this host with a uuid and key issued by the manager",
	Long: `Register persists the uuid/key pair the manager issued for this host,
along with its initial group membership, so run can authenticate without
further arguments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRegister()
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerUUID, "uuid", "", "agent uuid issued by the manager (required)")
	registerCmd.Flags().StringVar(&registerKey, "key", "", "enrolment key issued by the manager (required)")
	registerCmd.Flags().StringSliceVar(&registerGroups, "groups", nil, "initial group membership")
	rootCmd.AddCommand(registerCmd)
}

func runRegister() error {
	if registerUUID == "" || registerKey == "" {
		fmt.Fprintln(os.Stderr, "register requires --uuid and --key")
		os.Exit(1)
	}

	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Agent.StateDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}

	path := filepath.Join(cfg.Agent.StateDir, "agent_info.db")
	store, err := identitystore.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	if err := store.SaveCredentials(registerUUID, registerKey); err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}
	if err := store.SaveGroups(registerGroups); err != nil {
		fmt.Fprintf(os.Stderr, "io error: %v\n", err)
		os.Exit(2)
	}

	pterm.Success.Printf("registered as %s\n", registerUUID)
	return nil
}
