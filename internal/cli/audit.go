package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/tui"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the audit log",
	}
	cmd.AddCommand(
		newAuditSummaryCmd(g),
		newAuditTailCmd(g),
		newAuditPruneCmd(g),
		newAuditWatchCmd(g),
	)
	return cmd
}

func newAuditSummaryCmd(g *globalFlags) *cobra.Command {
	var asJSON, fromSQLite bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count entries by event, status and caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			if fromSQLite {
				if cfg.Audit.SQLitePath == "" {
					return fmt.Errorf("audit.sqlitePath is not configured")
				}
				m, err := audit.NewSQLiteMirror(cfg.Audit.SQLitePath)
				if err != nil {
					return err
				}
				defer m.Close()
				counts, err := m.CountByStatus(cmd.Context(), audit.EventAuthorization)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			}

			entries, err := audit.Read(cfg.AuditPath())
			if err != nil {
				return err
			}
			sum := audit.Summarize(entries)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			renderSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&fromSQLite, "sqlite", false, "count authorization decisions in the SQLite mirror")
	return cmd
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func renderSummary(w io.Writer, sum audit.Summary) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Audit log: %d entries", sum.Total)))
	if sum.Total == 0 {
		return
	}
	fmt.Fprintf(w, "%s %s .. %s\n", labelStyle.Render("span:"),
		sum.First.Local().Format(time.DateTime), sum.Last.Local().Format(time.DateTime))

	section := func(name string, counts map[string]int, styled bool) {
		if len(counts) == 0 {
			return
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(name))
		for _, c := range audit.Sorted(counts) {
			key := fmt.Sprintf("%-28s", c.Key)
			if styled {
				key = tui.StatusStyle(c.Key).Render(key)
			}
			fmt.Fprintf(w, "  %s %d\n", key, c.Count)
		}
	}
	section("By status", sum.ByStatus, true)
	section("By event", sum.ByEvent, false)
	section("By caller", sum.ByCaller, false)
}

func newAuditTailCmd(g *globalFlags) *cobra.Command {
	var (
		n      int
		asJSON bool
		denied bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			entries, err := audit.Tail(cfg.AuditPath(), n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if denied && e.Status != audit.StatusDenied {
					continue
				}
				if asJSON {
					if err := enc.Encode(e); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(out, tui.FormatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	cmd.Flags().BoolVar(&denied, "denied", false, "only denied entries")
	return cmd
}

func newAuditPruneCmd(g *globalFlags) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop all but the newest entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Audit.RetentionKeep
			}
			sink, err := openSink(cfg, logger)
			if err != nil {
				return err
			}
			defer sink.Close()
			removed, err := sink.Prune(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries, kept at most %d\n", removed, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "entries to keep (default audit.retentionKeep)")
	return cmd
}

func newAuditWatchCmd(g *globalFlags) *cobra.Command {
	var (
		limit    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the audit log in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			return tui.Run(cfg.AuditPath(), limit, interval)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "entries kept on screen")
	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultInterval, "refresh interval")
	return cmd
}
