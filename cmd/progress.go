package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/sensei/internal/ledger"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <user> <goal>",
	Short: "Show a learner's progress on a goal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, buildOptions{quiet: true})
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		ctx := cmd.Context()
		items, err := rt.orch.GetProgress(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%-3s  %-28s  %-12s  %8s  %-10s\n", "", "Item", "Status", "Attempts", "Expires")
		fmt.Fprintln(out, strings.Repeat("─", 70))
		counted := 0
		for _, it := range items {
			if it.Status == ledger.StatusPassed || it.Status == ledger.StatusEngaged {
				counted++
			}
			expires := "-"
			if it.ExpiresAt != nil {
				expires = it.ExpiresAt.Local().Format("2006-01-02")
			}
			fmt.Fprintf(out, "%-3s  %-28s  %-12s  %8d  %-10s\n",
				it.Status.Glyph(), truncate(it.Title, 28), it.Status, it.Attempts, expires)
		}

		ratio := 1.0
		if len(items) > 0 {
			ratio = float64(counted) / float64(len(items))
		}
		fmt.Fprintln(out, strings.Repeat("─", 70))
		fmt.Fprintf(out, "Engagement %d/%d (%.0f%%), handoff threshold %.0f%%\n",
			counted, len(items), ratio*100, rt.gate.Threshold()*100)
		return nil
	},
}

var handoffCmd = &cobra.Command{
	Use:   "handoff <user> <goal>",
	Short: "Request instructor feedback for a learner",
	Long: "Handoff asks the engagement gate whether the learner has covered enough of the\n" +
		"goal. An --override reason grants the handoff regardless and is recorded.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("override")

		rt, err := buildRuntime(cmd, buildOptions{quiet: true})
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		d, err := rt.orch.RequestHandoff(cmd.Context(), args[0], args[1], reason)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case d.Overridden:
			fmt.Fprintf(out, "Handoff granted by override (%s). Engagement %.0f%%.\n", d.Reason, d.Ratio*100)
		case d.Allowed:
			fmt.Fprintf(out, "Handoff allowed. Engagement %.0f%%.\n", d.Ratio*100)
		default:
			fmt.Fprintf(out, "Handoff not yet allowed. Engagement %.0f%%, %d more %s needed.\n",
				d.Ratio*100, d.Needed, plural(d.Needed, "concept", "concepts"))
		}
		return nil
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	handoffCmd.Flags().String("override", "", "Grant the handoff regardless of engagement, recording this reason")
}
