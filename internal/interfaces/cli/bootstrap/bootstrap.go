// Package bootstrap loads configuration and process-wide state shared by
// every command.
package bootstrap

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/infrastructure/config"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Flags are the root persistent flags.
type Flags struct {
	ConfigPath string
	Debug      bool
}

func (f *Flags) Register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")
	cmd.PersistentFlags().BoolVar(&f.Debug, "debug", false, "Debug logging with source locations")
}

// Init loads the config, then sets up the logger and business timezone.
func Init(f *Flags) (*config.Config, logger.Interface, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if f.Debug {
		cfg.Logger.Level = "debug"
	}
	if err := logger.Init(&cfg.Logger, f.Debug); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := biztime.Init(cfg.Timezone); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize business timezone: %w", err)
	}

	return cfg, logger.NewLogger(), nil
}

// InitialCredentials are the tokens from the config file and environment.
func InitialCredentials(cfg *config.Config) credential.Credentials {
	return credential.Credentials{
		AuthToken:      cfg.BackOffice.AuthToken,
		HubAccessToken: cfg.BackOffice.HubAccessToken,
		Cookie:         cfg.BackOffice.Cookie,
		SubscribeToken: cfg.BackOffice.SubscribeToken,
	}
}
