package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"ids-guard/internal/app"
	"ids-guard/internal/model"

	"github.com/spf13/cobra"
)

var blockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Add an IPv4 address to the human blocklist and block it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Remove an IPv4 address from the human blocklist and unblock it",
	Long: `Remove an IPv4 address from the human blocklist and unblock it.

Addresses proposed by anomaly detection are not affected; they leave the
effective blocklist when a later cycle stops proposing them.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnblock,
}

var (
	listPage    int
	listPerPage int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective blocklist",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listPerPage, "per-page", 50, "Entries per page")
}

func runBlock(cmd *cobra.Command, args []string) error {
	ip := args[0]
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Blocklist.Add(ctx, ip, model.SourceCLI); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "IP %s blocked successfully\n", ip)
		return nil
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	ip := args[0]
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Blocklist.Remove(ctx, ip, model.SourceCLI); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "IP %s unblocked successfully\n", ip)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		page, err := a.Blocklist.List(listPage, listPerPage)
		if err != nil {
			return err
		}
		human := make(map[string]bool)
		for _, ip := range a.Blocklist.Human() {
			human[ip] = true
		}

		out := cmd.OutOrStdout()
		if page.Total == 0 {
			fmt.Fprintln(out, "No blocked IPs.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IP\tORIGIN")
		for _, ip := range page.IPs {
			origin := "detection"
			if human[ip] {
				origin = "human"
			}
			fmt.Fprintf(w, "%s\t%s\n", ip, origin)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\npage %d, %d of %d entries\n", page.Page, len(page.IPs), page.Total)
		return nil
	})
}
