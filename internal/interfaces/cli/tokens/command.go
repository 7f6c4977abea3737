// Package tokens inspects the published tokens file.
package tokens

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/infrastructure/tokensource"
	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
)

const fetchTimeout = 15 * time.Second

func NewCommand(flags *bootstrap.Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token source tools",
	}
	cmd.AddCommand(newCheckCommand(flags))
	return cmd
}

func newCheckCommand(flags *bootstrap.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fetch the tokens file once and show what would change",
		Long:  `Download the configured tokens file and print a masked diff against the configured credentials. Nothing is applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap.Init(flags)
			if err != nil {
				return err
			}
			if cfg.TokenSource.URL == "" {
				return errors.New("token_source.url is not configured")
			}

			watcher := tokensource.NewGitHubWatcher(tokensource.Config{
				URL:         cfg.TokenSource.URL,
				GitHubToken: cfg.TokenSource.GitHubToken,
				Timeout:     fetchTimeout,
			}, nil, log)

			file, hash, err := watcher.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			changes := tokensource.DiffCredentials(bootstrap.InitialCredentials(cfg), file)
			return printDiff(cmd.OutOrStdout(), file, hash, changes)
		},
	}
}

func printDiff(w io.Writer, file tokensource.TokenFile, hash string, changes []tokensource.FieldChange) error {
	fmt.Fprintf(w, "Tokens file %s (last updated %s)\n", shortHash(hash), file.LastUpdated)
	if len(changes) == 0 {
		fmt.Fprintln(w, "No differences from the configured credentials.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tCURRENT\tPUBLISHED")
	for _, c := range changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Field, c.Old, c.New)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
