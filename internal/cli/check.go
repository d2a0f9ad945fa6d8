package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/request"
)

// errEmptyInput is returned when stdin holds no request.
var errEmptyInput = errors.New("no request on stdin")

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Decide one tool request read from stdin",
		Long: `Read one JSON tool request from stdin and write the decision to stdout.

Input:  {"tool": "Write", "parameters": {...}, "caller": "...", "context": {...}}
Output: {"decision": "allow|ask|deny", "approved": bool, "reason": "...", ...}

The exit status is 0 whenever a decision was made, including deny and ask.
It is 1 only when the input could not be parsed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd.InOrStdin())
			if err != nil {
				return &exitError{code: 1, err: fmt.Errorf("malformed request: %w", err)}
			}

			cfg, logger, _, err := setup(cmd, g)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			a, err := build(cmd.Context(), cfg, logger, buildOptions{})
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			defer a.Close()

			resp := a.gateway.Authorize(cmd.Context(), req)
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
}

// readRequest decodes exactly one request object.
func readRequest(r io.Reader) (request.ToolRequest, error) {
	var req request.ToolRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errEmptyInput
		}
		return req, err
	}
	if dec.More() {
		return req, errors.New("trailing data after request")
	}
	return req, nil
}
