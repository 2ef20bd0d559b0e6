package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRulesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the active rules and their entropy thresholds",
		Long: `List the rules a scan would use with the current configuration,
including --regex, --gitleaks and --caseinsensitive.

Examples:
  rootle rules
  rootle rules --gitleaks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)

			engine, err := a.engine(ctx, "")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENTROPY\tTHRESHOLD")
			for _, r := range engine.Rules().Rules() {
				threshold := "-"
				if r.EntropyFilter {
					threshold = strconv.FormatFloat(r.EntropyThreshold, 'f', -1, 64)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\n", r.Name, r.EntropyFilter, threshold)
			}
			return w.Flush()
		},
	}
}
