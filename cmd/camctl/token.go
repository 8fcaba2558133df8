package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/tokens"
)

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for the operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("signing secret required (--secret or OPERATOR_SECRET)")
			}
			r := tokens.Role(role)
			if r != tokens.RoleOperator && r != tokens.RoleViewer {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := tokens.NewManager(secret).Generate(subject, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("OPERATOR_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&subject, "subject", "camctl", "token subject")
	cmd.Flags().StringVar(&role, "role", string(tokens.RoleOperator), "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
