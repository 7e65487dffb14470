package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/postpipe/connector/internal/config"
	"github.com/postpipe/connector/internal/security"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a query token",
	Long: `Mint a signed token accepted by the read endpoints (/data and
/forms/{formId}/submissions), bound to this connector's id.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("subject", "dashboard", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.Connector.Secret == "" {
		return config.ErrMissingConnectorSecret
	}
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	auth := security.NewTokenAuthenticator(cfg.Connector.ID, cfg.Connector.Secret)
	token, err := auth.Issue(subject, ttl)
	if err != nil {
		return err
	}
	printf(cmd.OutOrStdout(), "%s", token)
	return nil
}
