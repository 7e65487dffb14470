package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpipe/connector/internal/config"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/security"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Sign a submission body",
	Long: `Print the HMAC-SHA256 signature of a request body, keyed by the
connector secret. Reads stdin when no file (or "-") is given.

With --refresh-timestamp the body's "timestamp" is set to now before
signing and the rewritten body is written to --out (default stdout).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().Bool("refresh-timestamp", false, "set timestamp to now before signing")
	signCmd.Flags().String("out", "", "write the signed body to this file")
}

func runSign(cmd *cobra.Command, args []string) error {
	if cfg.Connector.Secret == "" {
		return config.ErrMissingConnectorSecret
	}
	refresh, _ := cmd.Flags().GetBool("refresh-timestamp")
	out, _ := cmd.Flags().GetString("out")

	body, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	if refresh {
		body, err = refreshTimestamp(body, time.Now().UTC())
		if err != nil {
			return err
		}
	}

	signature := security.NewSigner(cfg.Connector.Secret).Sign(body)

	if refresh {
		if out != "" {
			if err := os.WriteFile(out, body, 0o600); err != nil {
				return fmt.Errorf("failed to write body: %w", err)
			}
		} else {
			printf(cmd.OutOrStdout(), "%s", body)
		}
	}
	printf(cmd.OutOrStdout(), "%s: %s", security.SignatureHeader, signature)
	return nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// refreshTimestamp rewrites the top-level timestamp, keeping key order.
func refreshTimestamp(body []byte, now time.Time) ([]byte, error) {
	var doc models.Fields
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	doc = doc.With("timestamp", models.StringValue(now.Format(time.RFC3339)))
	return json.Marshal(doc)
}
