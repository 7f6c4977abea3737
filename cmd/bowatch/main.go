package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
	"github.com/bowatch/bowatch/internal/interfaces/cli/listen"
	"github.com/bowatch/bowatch/internal/interfaces/cli/migrate"
	"github.com/bowatch/bowatch/internal/interfaces/cli/negotiate"
	"github.com/bowatch/bowatch/internal/interfaces/cli/tokens"
	"github.com/bowatch/bowatch/internal/shared/version"
)

func main() {
	var flags bootstrap.Flags

	rootCmd := &cobra.Command{
		Use:           "bowatch",
		Short:         "bowatch - back office withdrawal and deposit alerts",
		Long:          `bowatch listens to the back office notification hub and deposit listing and forwards new requests to Telegram.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.Register(rootCmd)
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddCommand(
		listen.NewCommand(&flags),
		negotiate.NewCommand(&flags),
		tokens.NewCommand(&flags),
		migrate.NewCommand(&flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
