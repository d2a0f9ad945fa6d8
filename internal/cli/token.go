package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/security"
)

func newTokenCmd() *cobra.Command {
	var (
		caller string
		role   string
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue an HS256 token for the serve API, signed with ` + security.JWTSecretEnv + `.

Roles: operator (everything), agent (authorize, breaker and profile reads),
readonly (breaker, profile and audit reads, decision stream).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := security.GetJWTSecret()
			if secret == nil {
				return fmt.Errorf("%s is not set", security.JWTSecretEnv)
			}
			if !security.IsValidRole(role) {
				return fmt.Errorf("unknown role %q (want one of %v)", role, security.ValidRoles)
			}
			if caller == "" {
				caller, _ = os.Hostname()
			}
			tok, err := security.GenerateToken(caller, role, secret, expiry)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "caller identity (default hostname)")
	cmd.Flags().StringVar(&role, "role", security.RoleAgent, "operator, agent or readonly")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime")
	return cmd
}
