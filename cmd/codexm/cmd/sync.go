package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
	"github.com/Dicklesworthstone/codex_account_manager/internal/usage"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mark the account whose login is live as active",
	Long: `Reads $CODEX_HOME/auth.json, finds the saved account it belongs to, and makes
that account the only active one. When Codex is logged out, or the live login
is not saved, no account is left active.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live Codex login and the active account",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show which saved account a credential matches, without changing anything",
	Long: `Decodes a credential (the live auth.json by default) and reports the saved
account it matches and how strongly.

Ranks, strongest first:
  5  account id + user id
  4  account id + email
  3  user id
  2  email
  1  account id only (never merged on add)`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringP("file", "f", "", "credential file to match (- for stdin)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(matchCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	id, err := cur.engine.SyncCurrent(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if id == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved account matches the live login; none active")
		return nil
	}
	acc, err := cur.repo.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active: %s\n", acc.DisplayName())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Live login: %s\n", cur.live.Path())
	id, profile, ok := cur.engine.CurrentIdentity(ctx)
	switch {
	case !ok && cur.live.Exists():
		fmt.Fprintln(out, "  unreadable (run with --verbose for details)")
	case !ok:
		fmt.Fprintln(out, "  logged out")
	default:
		fmt.Fprintf(out, "  identity: %s\n", id)
		fmt.Fprintf(out, "  plan:     %s\n", profile.Normalized().PlanType)
		raw, err := cur.live.Read(ctx)
		if err == nil {
			if exp, ok := identity.CredentialExpiry(raw); ok {
				fmt.Fprintf(out, "  token:    %s\n", expiryText(exp, time.Now()))
			}
		}
		acc, m := cur.engine.FindBestMatch(id)
		if m.Found() {
			fmt.Fprintf(out, "  saved as: %s (rank %d)\n", acc.DisplayName(), m.Rank)
		} else {
			fmt.Fprintln(out, "  saved as: - (run 'codexm add' to save it)")
		}
		if raw != nil {
			reportStoredCopy(ctx, out, raw, acc, m.Found())
		}
	}

	fmt.Fprintln(out)
	if active, ok := cur.repo.Active(); ok {
		fmt.Fprintf(out, "Active account: %s (%s)\n", active.DisplayName(), shortID(active.ID))
		fmt.Fprintf(out, "  usage: %s\n", usage.Summary(active.UsageInfo))
	} else {
		fmt.Fprintf(out, "Active account: none (%d saved)\n", len(cur.repo.Accounts()))
	}
	return reportOrphans(out)
}

// reportStoredCopy compares the live auth.json byte for byte with the stored
// credentials. Codex rewrites auth.json when it refreshes tokens, so a match by
// identity with different bytes means the saved copy is stale.
func reportStoredCopy(ctx context.Context, out io.Writer, raw []byte, matched account.StoredAccount, found bool) {
	holder, same, err := cur.vault.Holding(ctx, raw)
	if err != nil {
		cur.logger.Warn("compare live credential with stored copies", "error", err)
		return
	}
	switch {
	case same && found && holder == matched.ID:
		fmt.Fprintln(out, "  stored:   identical to the saved copy")
	case same:
		name := holder
		if acc, err := cur.repo.Get(holder); err == nil {
			name = acc.DisplayName()
		}
		fmt.Fprintf(out, "  stored:   identical to the saved copy of %s\n", name)
	case found:
		fmt.Fprintln(out, "  stored:   differs from the saved copy (run 'codexm add' to refresh it)")
	}
}

// reportOrphans lists stored credentials that no account refers to, such as
// those left behind when a removal could not delete the file.
func reportOrphans(out io.Writer) error {
	ids, err := cur.vault.IDs()
	if err != nil {
		return err
	}
	var orphans []string
	for _, id := range ids {
		if _, err := cur.repo.Get(id); errors.Is(err, account.ErrAccountNotFound) {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nUnreferenced credentials in %s:\n", cur.vault.Dir())
	for _, id := range orphans {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}

func expiryText(exp, now time.Time) string {
	if exp.Before(now) {
		return "expired " + humanize.RelTime(exp, now, "ago", "from now")
	}
	return "expires " + humanize.RelTime(exp, now, "ago", "from now")
}

func runMatch(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	var (
		id identity.Identity
		ok = true
	)
	if file == "" {
		id, _, ok = cur.engine.CurrentIdentity(cmd.Context())
		if !ok {
			return fmt.Errorf("no readable Codex login at %s", cur.live.Path())
		}
	} else {
		raw, err := readCredentialFile(cmd.InOrStdin(), file)
		if err != nil {
			return err
		}
		id, _, err = identity.FromCredential(identity.JWTDecoder{}, raw)
		if err != nil {
			cur.logger.Debug("credential decode failed, using fallback identity", "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Identity: %s\n", id)
	if id.IsInsufficient() {
		fmt.Fprintln(out, "  (no user id or email; only an account id match is possible)")
	}

	acc, m := cur.engine.FindBestMatch(id)
	if !m.Found() {
		fmt.Fprintln(out, "No saved account matches")
		return nil
	}
	fmt.Fprintf(out, "Match: %s (%s)\n", acc.DisplayName(), acc.ID)
	fmt.Fprintf(out, "  rank: %d (%s)\n", m.Rank, rankName(m.Rank))
	if m.Count > 1 {
		fmt.Fprintf(out, "  tied with %d other account(s); newest updatedAt wins\n", m.Count-1)
	}
	if m.Rank < identity.MinMergeRank {
		fmt.Fprintln(out, "  adding this credential would create a new account")
	}
	return nil
}

func rankName(rank int) string {
	switch rank {
	case identity.RankAccountIDAndUser:
		return "account id + user id"
	case identity.RankAccountIDAndEmail:
		return "account id + email"
	case identity.RankUserID:
		return "user id"
	case identity.RankEmail:
		return "email"
	case identity.RankAccountID:
		return "account id"
	default:
		return "none"
	}
}
