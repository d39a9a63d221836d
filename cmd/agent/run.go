package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"endpointagent/internal/agent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Run starts the agent: it loads the enrolled identity, connects to the
configured manager, and keeps running until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent() error {
	a, err := agent.New(cfgFile)
	if err != nil {
		return err
	}

	if err := a.Start(context.Background()); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down endpoint-agent...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		log.Printf("agent stopped with error: %v", err)
	}
	log.Println("endpoint-agent exited")
	return nil
}
