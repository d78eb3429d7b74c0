package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "macbot",
	Short: "Real-time coordination runtime for a conversational voice assistant",
	Long: `macbot runs the coordination layer of a multi-process voice assistant:
a typed message bus, a conversation state machine with barge-in, and a
health monitor with circuit breakers. Services attach over the bus; UIs
attach over the websocket bridge.`,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "macbot.yaml", "path to the configuration file")
	rootCmd.AddCommand(runCmd, dashboardCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
