package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:     "token <subject>",
	Short:   "Issue a signed bearer token for an opr server",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("OPREPORT_JWT_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no signing secret: pass --secret or set OPREPORT_JWT_SECRET")
		}
		if ttl <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
		tok, err := server.SignToken([]byte(secret), args[0], ttl)
		if err != nil {
			return fmt.Errorf("signing token: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"token":      tok,
				"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "HS256 signing secret (default $OPREPORT_JWT_SECRET)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
