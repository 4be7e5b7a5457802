package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"ids-guard/internal/app"
	"ids-guard/internal/blocklist"
	"ids-guard/internal/report"
	"ids-guard/internal/risk"

	"github.com/spf13/cobra"
)

var riskTop int

var riskCmd = &cobra.Command{
	Use:   "risk [ip]",
	Short: "Show the riskiest addresses, or the risk breakdown of one address",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRisk,
}

var reportCmd = &cobra.Command{
	Use:       "report <daily|weekly|monthly>",
	Short:     "Summarize the alerts of a time window",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(report.Daily), string(report.Weekly), string(report.Monthly)},
	RunE:      runReport,
}

func init() {
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(reportCmd)

	riskCmd.Flags().IntVarP(&riskTop, "top", "n", 10, "Number of addresses to show")
}

func runRisk(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := blocklist.ValidateIP(args[0]); err != nil {
			return err
		}
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		alerts, err := a.ReadAlerts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			profiles := risk.TopRisks(alerts, riskTop)
			if len(profiles) == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tSCORE\tLEVEL\tALERTS\tCOUNTRY\tLAST SEEN")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%.3f\t%s\t%d\t%s\t%s\n", p.IP, p.RiskScore, p.ThreatLevel, p.AlertCount, p.Country, p.LastSeen)
			}
			return w.Flush()
		}

		analysis, err := risk.Analyze(alerts, args[0])
		if errors.Is(err, risk.ErrNoAlerts) {
			fmt.Fprintf(out, "No alerts found for IP %s\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s): score %.3f, %s, %d alerts\n",
			analysis.IP, analysis.Country, analysis.RiskScore, analysis.ThreatLevel, analysis.ConnectionCount)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FACTOR\tSCORE\tCONFIDENCE\tDESCRIPTION")
		for _, f := range analysis.RiskFactors {
			fmt.Fprintf(w, "%s\t%.3f\t%.2f\t%s\n", f.Name, f.Score, f.Confidence, f.Description)
		}
		return w.Flush()
	})
}

func runReport(cmd *cobra.Command, args []string) error {
	window, err := report.ParseWindow(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		alerts, err := a.ReadAlerts()
		if err != nil {
			return err
		}
		rep, err := report.Generate(window, alerts, a.Blocklist.Count(), time.Now())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s report, generated %s\n", rep.ReportType, rep.GeneratedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "alerts: %d (high severity %d)\n", rep.TotalAlerts, rep.HighSeverity)
		fmt.Fprintf(out, "blocked IPs: %d\n", rep.BlockedIPs)
		for _, t := range rep.TopThreats {
			fmt.Fprintf(out, "  %-40s %d\n", t.Name, t.Count)
		}
		return nil
	})
}
