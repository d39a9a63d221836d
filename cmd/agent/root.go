package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"endpointagent/internal/config"
	"endpointagent/internal/pkg/logger"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "endpoint-agent",
	Short: "endpoint-agent is the host-side agent of the endpoint management system",
	Long: `endpoint-agent authenticates with a central manager, streams locally
produced telemetry up to it, and pulls down commands and configuration
group files it dispatches to its own collection and response modules.

Examples:
  endpoint-agent run
  endpoint-agent register --uuid 11111111-1111-1111-1111-111111111111 --key s3cr3t
  endpoint-agent status
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initCLILogger(cmd)
	},
}

// Execute runs the root command, recovering from a panic so a bug in a
// module or command handler surfaces as a clean error instead of a raw
// stack trace on the operator's terminal.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] agent crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: OS-specific location)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig lets CLI-only flags (like --log-level) influence viper even
// though the agent's own config.Loader runs a separate viper instance.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// initCLILogger gives CLI invocations (status, register, ...) formatted
// output before the full agent config has been loaded.
func initCLILogger(cmd *cobra.Command) {
	flag := cmd.Flags().Lookup("log-level")
	level := "warn"
	if flag != nil && flag.Changed {
		level = flag.Value.String()
	}

	if level != "debug" {
		pterm.DisableDebugMessages()
	}

	if _, err := logger.Init(&config.LogConfig{
		Level:  level,
		Format: "text",
		Output: "stdout",
	}); err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
	}
}
