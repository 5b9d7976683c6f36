package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history [account]",
	Short: "Show recent account activity",
	Long: `Lists recorded switches, syncs, adds and removals, newest first.

Examples:
  codexm history
  codexm history -n 50
  codexm history work --type switch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of events to show")
	historyCmd.Flags().String("type", "", "only show events of this type")
	historyCmd.Flags().Duration("since", 0, "only show events newer than this (e.g. 24h)")
	historyCmd.Flags().Bool("stats", false, "show per-account counters for the account")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	h, err := cur.requireHistory()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	eventType, _ := cmd.Flags().GetString("type")
	since, _ := cmd.Flags().GetDuration("since")
	showStats, _ := cmd.Flags().GetBool("stats")

	filter := db.EventFilter{Type: eventType, Limit: limit}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	if len(args) == 1 {
		acc, err := cur.repo.Resolve(args[0])
		if err != nil {
			return err
		}
		filter.AccountID = acc.ID
	}

	out := cmd.OutOrStdout()
	if showStats {
		if filter.AccountID == "" {
			return fmt.Errorf("--stats needs an account")
		}
		stats, err := h.Stats(cmd.Context(), filter.AccountID)
		if err != nil {
			return err
		}
		if stats == nil {
			fmt.Fprintln(out, "No activity recorded for this account")
			return nil
		}
		fmt.Fprintf(out, "Switches: %d\nSyncs:    %d\n", stats.TotalSwitches, stats.TotalSyncs)
		if !stats.LastActive.IsZero() {
			fmt.Fprintf(out, "Last active: %s\n", stats.LastActive.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	events, err := h.Events(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No activity recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tACCOUNT\tDETAILS")
	for _, ev := range events {
		who := ev.Alias
		if who == "" {
			who = shortID(ev.AccountID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			ev.Type,
			orDash(who),
			formatDetails(ev.Details),
		)
	}
	return w.Flush()
}

// formatDetails renders event details as sorted key=value pairs.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(details[k])
		if err != nil {
			continue
		}
		parts = append(parts, k+"="+string(v))
	}
	return strings.Join(parts, " ")
}
