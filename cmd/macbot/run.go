package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	coordination "github.com/macbot-ai/macbot-core/core"
	"github.com/macbot-ai/macbot-core/core/config"
	"github.com/macbot-ai/macbot-core/core/transports"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant runtime and websocket bridge",
	Long: `Starts the bus, conversation manager, barge-in coordinator, health
monitor, and websocket bridge, then serves until interrupted. Without a
language model service on the bus the assistant answers from its degraded
local responses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		assistant := coordination.New(cfg)
		if err := assistant.Start(ctx); err != nil {
			return err
		}
		defer assistant.Close()

		server := transports.NewWebsocketServer(assistant.Bus(), assistant, cfg.Web.Bind)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		fmt.Printf("macbot listening on ws://%s/ws\n", server.Addr())
		<-ctx.Done()
		fmt.Println("shutting down")
		return nil
	},
}
