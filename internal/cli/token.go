package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"prepost-assessment-service/internal/config"
	transport "prepost-assessment-service/internal/transport/http"
)

// NewTokenCmd issues a bearer token signed with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a participant or administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required")
			}
			if role != transport.RoleParticipant && role != transport.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", transport.RoleParticipant, transport.RoleAdmin)
			}
			tok, err := transport.NewAuthenticator(cfg.Auth.JWTSecret).Issue(sub, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "participant id (email address)")
	cmd.Flags().StringVar(&role, "role", transport.RoleParticipant, "participant or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
