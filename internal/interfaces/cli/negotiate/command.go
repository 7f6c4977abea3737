// Package negotiate runs a single SignalR negotiate as a credential check.
package negotiate

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/application/credential"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

func NewCommand(flags *bootstrap.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "negotiate",
		Short: "Negotiate once with the notification hub",
		Long:  `Perform one negotiate request with the configured hub access token and report whether a connection token was issued.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap.Init(flags)
			if err != nil {
				return err
			}

			store := credential.NewStore(bootstrap.InitialCredentials(cfg), nil, log)
			sr := cfg.BackOffice.SignalR
			manager := signalr.NewManager(signalr.Options{
				BaseURL:          sr.BaseURL,
				HubName:          sr.HubName,
				ClientProtocol:   sr.ClientProtocol,
				SubscriptionIDs:  sr.SubscriptionIDs,
				Origin:           sr.Origin,
				UserAgent:        sr.UserAgent,
				NegotiateTimeout: sr.NegotiateTimeout(),
			}, store, nil, log)

			token, err := manager.Negotiate(cmd.Context())
			if err != nil {
				return describeError(err)
			}
			printResult(cmd.OutOrStdout(), sr.BaseURL, token)
			return nil
		},
	}
}

// describeError adds a credential hint when the hub itself rejected the
// negotiate, as opposed to a transport failure.
func describeError(err error) error {
	if signalr.IsNegotiationError(err) {
		return fmt.Errorf("negotiate rejected by hub (check the hub access token and cookie): %w", err)
	}
	return fmt.Errorf("negotiate failed: %w", err)
}

func printResult(w io.Writer, baseURL, token string) {
	fmt.Fprintf(w, "Negotiate succeeded\n")
	fmt.Fprintf(w, "  Endpoint:         %s\n", baseURL)
	fmt.Fprintf(w, "  Connection token: %s\n", logutil.MaskSecret(token))
}
