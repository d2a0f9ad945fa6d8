// Package cli implements the toolgate command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Authorize coding-agent tool calls",
		Long: `toolgate decides whether a coding agent may run a tool call.

Each request passes through the resource, workflow, circuit-breaker and
batch layers. The strictest answer wins: deny over ask over allow.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default $TOOLGATE_CONFIG)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newCheckCmd(g),
		newServeCmd(g),
		newBreakerCmd(g),
		newConsentCmd(g),
		newAuditCmd(g),
		newProfileCmd(g),
		newTokenCmd(),
		newVersionCmd(version),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	return run(NewRootCmd(version), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "toolgate:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "toolgate:", err)
	return 1
}
