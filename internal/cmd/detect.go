package cmd

import (
	"context"
	"fmt"
	"strings"

	"ids-guard/internal/app"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection cycle",
	Long: `Run one detection cycle: collect the IDS stream and unprocessed capture
sources, enrich, score, publish the merged records, replace the proposed
blocklist and reconcile the firewall.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Monitor.Tick(ctx)
		out := cmd.OutOrStdout()
		if res != nil {
			if res.Empty {
				fmt.Fprintf(out, "cycle %s: no new records\n", res.ID)
			} else {
				fmt.Fprintf(out, "cycle %s: records=%d alerts=%d anomalous=%d generation=%d\n",
					res.ID, res.Records, res.Alerts, res.Anomalous, res.Generation)
			}
			if len(res.Candidates) > 0 {
				fmt.Fprintf(out, "proposed: %s\n", strings.Join(res.Candidates, ", "))
			}
			if len(res.Blocked) > 0 {
				fmt.Fprintf(out, "blocked: %s\n", strings.Join(res.Blocked, ", "))
			}
			if len(res.Unblocked) > 0 {
				fmt.Fprintf(out, "unblocked: %s\n", strings.Join(res.Unblocked, ", "))
			}
		}
		return err
	})
}
