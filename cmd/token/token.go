// Package token provides the command that issues API bearer tokens for
// development and testing.
package token

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/florai/contrib-pipeline/internal/api/auth"
	"github.com/florai/contrib-pipeline/internal/conf"
)

// Command creates the token command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for a user",
		Long: `Sign a bearer token with the configured auth secret. Intended for local
development; production tokens come from the identity provider.

Example:
  export FLORAI_TOKEN=$(florai token --user auth0|1234)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authSettings := settings.Auth
			if ttl > 0 {
				authSettings.TokenTTL = ttl
			}
			signed, err := auth.IssueToken(&authSettings, userID, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, overrides auth.token_ttl")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
