// Package listen runs the listener with every configured subsystem.
package listen

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
	"github.com/bowatch/bowatch/internal/shared/version"
)

func NewCommand(flags *bootstrap.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Listen for withdrawal and deposit requests",
		Long: `Connect to the back office notification hub, poll deposit requests and
forward new requests to Telegram until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
}

func run(parent context.Context, flags *bootstrap.Flags) error {
	cfg, log, err := bootstrap.Init(flags)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(string, string, string, int) {}

	log.Infow("starting bowatch", "version", version.String())

	app, err := build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	if err := app.listener.Run(ctx); err != nil {
		log.Errorw("listener stopped with error", "error", err)
		return err
	}

	log.Infow("bowatch stopped")
	return nil
}
