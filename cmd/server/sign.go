package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kinship/internal/verification/signature"
)

// newSignWebhookCommand prints an X-Provider-Signature header for a payload,
// for replaying provider events against a local server.
func newSignWebhookCommand() *cobra.Command {
	var (
		secret string
		file   string
		at     int64
	)
	cmd := &cobra.Command{
		Use:   "sign-webhook",
		Short: "Sign a webhook payload the way the provider does",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("PROVIDER_WEBHOOK_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or PROVIDER_WEBHOOK_SECRET is required")
			}
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", signature.HeaderName, signature.Sign(payload, []byte(secret), ts))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook signing secret (env PROVIDER_WEBHOOK_SECRET)")
	cmd.Flags().StringVar(&file, "file", "-", "payload file, - for stdin")
	cmd.Flags().Int64Var(&at, "timestamp", 0, "unix timestamp to sign with (default now)")
	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	payload, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
