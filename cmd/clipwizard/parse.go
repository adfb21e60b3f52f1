package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/suggestion"
)

type parseOutput struct {
	Kind     suggestion.Kind      `json:"kind"`
	Reason   suggestion.Reason    `json:"reason,omitempty"`
	Clips    []clipplan.ClipPlan  `json:"clips"`
	Rejected []clipplan.Rejection `json:"rejected"`
}

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Parse a saved model answer into a clip plan",
		Long: "Reads a highlight answer from a file (or stdin with \"-\"), extracts the\n" +
			"clip list and prints the validated plan as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strict, _ := cmd.Flags().GetBool("strict")
			return runParse(cmd.InOrStdin(), cmd.OutOrStdout(), args[0], strict)
		},
	}
	cmd.Flags().Bool("strict", false, "Fail on the first invalid time range")
	return cmd
}

func runParse(stdin io.Reader, out io.Writer, path string, strict bool) error {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}

	parsed := suggestion.Parse(string(raw))
	res := parseOutput{
		Kind:     parsed.Kind,
		Reason:   parsed.Reason,
		Clips:    []clipplan.ClipPlan{},
		Rejected: []clipplan.Rejection{},
	}
	if parsed.OK() {
		plan, err := clipplan.Validate(parsed.Clips, clipplan.Options{Strict: strict})
		if err != nil {
			return err
		}
		res.Clips, res.Rejected = plan.Plans, plan.Rejected
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
