package cli

import (
	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/breaker"
)

func newBreakerCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset the auto-approval circuit breaker",
	}
	cmd.AddCommand(newBreakerStatusCmd(g), newBreakerResetCmd(g))
	return cmd
}

func newBreakerStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			out := map[string]any{
				"threshold":  cfg.Breaker.Threshold,
				"enabled":    cfg.Layers.Breaker,
				"state_file": cfg.BreakerStatePath(),
			}
			st, err := breaker.NewStateFile(cfg.BreakerStatePath()).Load()
			if err != nil {
				st = breaker.Unreadable(err)
				out["error"] = err.Error()
			}
			out["state"] = st
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newBreakerResetCmd(g *globalFlags) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Re-enable auto-approval after a trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg, logger, buildOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			prev := a.approver.Reset(cmd.Context(), callerOrUser(operator))
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"previous": prev,
				"state":    a.approver.State(),
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "name recorded in the audit log")
	return cmd
}
