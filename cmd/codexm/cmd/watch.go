package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the active account in step with the live Codex login",
	Long: `Watches $CODEX_HOME/auth.json and resyncs the active account whenever it
changes, plus every watch.poll_interval as a safety net.

With watch.bind_sessions enabled (and history on), each new Codex session log
is bound to the account that was live when it appeared, so 'codexm usage' can
read quota for accounts that are not currently active.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "override watch.debounce")
	watchCmd.Flags().Duration("poll", 0, "override watch.poll_interval")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	wcfg := watch.Config{
		AuthPath:     cur.live.Path(),
		Debounce:     cur.cfg.Watch.Debounce.Duration(),
		PollInterval: cur.cfg.Watch.PollInterval.Duration(),
		Logger:       cur.logger,
		OnSync:       syncReporter(cmd.OutOrStdout()),
	}
	if d, _ := cmd.Flags().GetDuration("debounce"); d > 0 {
		wcfg.Debounce = d
	}
	if d, _ := cmd.Flags().GetDuration("poll"); d > 0 {
		wcfg.PollInterval = d
	}
	if cur.cfg.Watch.BindSessions {
		if cur.history != nil {
			wcfg.SessionsDir = cur.cfg.SessionsDir()
			wcfg.Binder = cur.history
			wcfg.Live = cur.live
		} else {
			cur.logger.Warn("session binding needs activity history; binding disabled")
		}
	}

	w, err := watch.New(cur.engine, wcfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", wcfg.AuthPath)
	return w.Run(cmd.Context())
}

// syncReporter prints a line whenever the active account changes.
func syncReporter(out io.Writer) func(string, error) {
	last := "\x00"
	return func(activeID string, err error) {
		ts := time.Now().Format("15:04:05")
		if err != nil {
			fmt.Fprintf(out, "%s sync failed: %v\n", ts, err)
			return
		}
		if activeID == last {
			return
		}
		last = activeID
		if activeID == "" {
			fmt.Fprintf(out, "%s no active account\n", ts)
			return
		}
		name := activeID
		if acc, err := cur.repo.Get(activeID); err == nil {
			name = acc.DisplayName()
		}
		fmt.Fprintf(out, "%s active: %s\n", ts, name)
	}
}
