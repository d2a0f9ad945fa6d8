package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/breaker"
)

func newConsentCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage operator consent for auto-approval",
		Long: `Auto-approval only runs after an operator has consented, either through
the breaker.consent config flag or the consent file managed here.`,
	}
	cmd.AddCommand(
		newConsentChangeCmd(g, "grant", "Grant consent for auto-approval", true),
		newConsentChangeCmd(g, "revoke", "Withdraw consent for auto-approval", false),
		newConsentStatusCmd(g),
	)
	return cmd
}

func newConsentChangeCmd(g *globalFlags, use, short string, grant bool) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			store := breaker.NewConsentStore(cfg.ConsentPath())
			var rec breaker.ConsentRecord
			if grant {
				rec, err = store.Grant(callerOrUser(operator))
			} else {
				rec, err = store.Revoke()
			}
			if err != nil {
				return err
			}

			sink, err := openSink(cfg, logger)
			if err != nil {
				return err
			}
			defer sink.Close()
			sink.Record(context.WithoutCancel(cmd.Context()), audit.Entry{
				EventType: audit.EventConsentChanged,
				Status:    audit.StatusInfo,
				Context: map[string]any{
					"granted":  rec.Granted,
					"operator": callerOrUser(operator),
					"path":     cfg.ConsentPath(),
				},
			})
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "name recorded with the change")
	return cmd
}

func newConsentStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether consent is in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			rec, err := breaker.NewConsentStore(cfg.ConsentPath()).Status()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"file":      rec,
				"config":    cfg.Breaker.Consent,
				"effective": cfg.Breaker.Consent || rec.Granted,
			})
		},
	}
}
