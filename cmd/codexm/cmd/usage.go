package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/db"
	"github.com/Dicklesworthstone/codex_account_manager/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage [account]",
	Short: "Refresh quota usage from Codex session logs",
	Long: `Reads the rate limits Codex records in its session logs and saves them on the
account.

An account's usage comes from the newest session bound to it by 'codexm watch'.
The active account falls back to the newest session log on disk. Without an
argument every saved account is refreshed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUsage,
}

// errNoSession means no session log could be found for an account.
var errNoSession = errors.New("no session log for account")

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	var targets []account.StoredAccount
	if len(args) == 1 {
		acc, err := cur.repo.Resolve(args[0])
		if err != nil {
			return err
		}
		targets = []account.StoredAccount{acc}
	} else {
		targets = cur.repo.Accounts()
	}
	if len(targets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No accounts saved")
		return nil
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, acc := range targets {
		snap, err := refreshUsage(cmd.Context(), acc)
		switch {
		case errors.Is(err, errNoSession) && len(args) == 0:
			fmt.Fprintf(out, "%s: no session log\n", acc.DisplayName())
		case err != nil:
			failed++
			fmt.Fprintf(out, "%s: %v\n", acc.DisplayName(), err)
		default:
			printUsage(out, acc, snap, time.Now())
		}
	}
	if failed > 0 {
		return fmt.Errorf("usage refresh failed for %d account(s)", failed)
	}
	return nil
}

// refreshUsage parses the account's session log and persists the snapshot.
func refreshUsage(ctx context.Context, acc account.StoredAccount) (account.UsageSnapshot, error) {
	path, err := sessionFor(ctx, acc)
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	snap, err := usage.ParseSessionFile(path)
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	if err := cur.repo.UpdateUsage(ctx, acc.ID, snap); err != nil {
		return account.UsageSnapshot{}, fmt.Errorf("save usage: %w", err)
	}
	return snap, nil
}

func sessionFor(ctx context.Context, acc account.StoredAccount) (string, error) {
	if cur.history != nil && acc.AccountInfo.AccountID != "" {
		b, err := cur.history.LatestBoundSession(ctx, acc.AccountInfo.AccountID)
		switch {
		case err == nil:
			return b.FilePath, nil
		case !errors.Is(err, db.ErrNoBinding):
			return "", err
		}
	}
	if !acc.IsActive {
		return "", errNoSession
	}
	path, err := usage.LatestSessionFile(cur.cfg.SessionsDir())
	if errors.Is(err, usage.ErrNoSessionFiles) || errors.Is(err, fs.ErrNotExist) {
		return "", errNoSession
	}
	return path, err
}

func printUsage(out io.Writer, acc account.StoredAccount, snap account.UsageSnapshot, now time.Time) {
	fmt.Fprintf(out, "%s: %s\n", acc.DisplayName(), usage.Summary(&snap))
	if t := usage.ResetTime(snap.FiveHourResetTimeMs); !t.IsZero() {
		fmt.Fprintf(out, "  5h resets %s\n", humanize.RelTime(t, now, "ago", "from now"))
	}
	if t := usage.ResetTime(snap.WeeklyResetTimeMs); !t.IsZero() {
		fmt.Fprintf(out, "  weekly resets %s\n", humanize.RelTime(t, now, "ago", "from now"))
	}
	cur.logger.Debug("usage source", "account_id", acc.ID, "file", snap.SourceFile)
}
