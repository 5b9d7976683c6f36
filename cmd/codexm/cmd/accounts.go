package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/identity"
	"github.com/Dicklesworthstone/codex_account_manager/internal/usage"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Save the current Codex login (or a credential file) as an account",
	Long: `Saves a Codex credential as an account.

Without --file the live auth.json is saved. When the credential belongs to an
account that is already saved, that account is refreshed in place.

Examples:
  codexm add --alias work
  codexm add --file ~/backup/auth.json
  cat auth.json | codexm add --file -`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List saved accounts",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var switchCmd = &cobra.Command{
	Use:     "switch <account>",
	Aliases: []string{"use"},
	Short:   "Make an account the live Codex login",
	Long: `Writes the account's credential to $CODEX_HOME/auth.json and marks it active.

The account can be named by id, alias, or an id prefix of at least four
characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

var rmCmd = &cobra.Command{
	Use:     "rm <account>",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete a saved account and its stored credential",
	Long: `Deletes a saved account. The live auth.json is left alone.

Removing the active account leaves no account active; pass --activate-next to
switch to the most recently updated remaining account instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var renameCmd = &cobra.Command{
	Use:   "rename <account> <alias>",
	Short: "Change an account's alias",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

func init() {
	addCmd.Flags().StringP("file", "f", "", "read the credential from a file (- for stdin)")
	addCmd.Flags().StringP("alias", "a", "", "alias for the account")
	addCmd.Flags().Bool("allow-missing-identity", false, "accept credentials without a user id or email")

	lsCmd.Flags().Bool("json", false, "output as JSON")

	rmCmd.Flags().Bool("activate-next", false, "switch to the most recent remaining account when removing the active one")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(renameCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	alias, _ := cmd.Flags().GetString("alias")
	allowMissing, _ := cmd.Flags().GetBool("allow-missing-identity")
	opts := account.AddOptions{Alias: alias, AllowMissingIdentity: allowMissing}

	var (
		res account.AddResult
		err error
	)
	if file == "" {
		res, err = cur.engine.AddCurrent(cmd.Context(), opts)
		if errors.Is(err, account.ErrCredentialAbsent) {
			return fmt.Errorf("no Codex login at %s (run 'codex login' first)", cur.live.Path())
		}
	} else {
		raw, readErr := readCredentialFile(cmd.InOrStdin(), file)
		if readErr != nil {
			return readErr
		}
		res, err = cur.engine.AddAccount(cmd.Context(), raw, opts)
	}
	if err != nil {
		return addError(err)
	}

	verb := "Added"
	if res.Merged {
		verb = "Updated"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, res.Account.DisplayName(), res.Account.ID)
	if res.Account.IsActive {
		fmt.Fprintln(cmd.OutOrStdout(), "  active")
	}
	return nil
}

func readCredentialFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	return raw, nil
}

func addError(err error) error {
	switch {
	case errors.Is(err, identity.ErrMalformedCredential):
		return fmt.Errorf("not a Codex credential: %w", err)
	case errors.Is(err, account.ErrMissingAccountIdentity):
		return fmt.Errorf("%w; pass --allow-missing-identity to save it anyway", err)
	}
	return err
}

// accountJSON is the `ls --json` row.
type accountJSON struct {
	ID          string                 `json:"id"`
	Alias       string                 `json:"alias"`
	Email       string                 `json:"email,omitempty"`
	Plan        string                 `json:"plan"`
	AccountID   string                 `json:"accountId,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	Active      bool                   `json:"active"`
	CreatedAt   string                 `json:"createdAt"`
	UpdatedAt   string                 `json:"updatedAt"`
	Usage       *account.UsageSnapshot `json:"usage,omitempty"`
	PercentLeft *float64               `json:"percentLeft,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	accounts := cur.repo.Accounts()
	out := cmd.OutOrStdout()

	if asJSON {
		rows := make([]accountJSON, 0, len(accounts))
		for _, acc := range accounts {
			row := accountJSON{
				ID:        acc.ID,
				Alias:     acc.Alias,
				Email:     acc.AccountInfo.Email,
				Plan:      string(acc.AccountInfo.PlanType),
				AccountID: acc.AccountInfo.AccountID,
				UserID:    acc.AccountInfo.UserID,
				Active:    acc.IsActive,
				CreatedAt: acc.CreatedAt,
				UpdatedAt: acc.UpdatedAt,
				Usage:     acc.UsageInfo,
			}
			if acc.UsageInfo != nil {
				left := usage.MinPercentLeft(acc.UsageInfo)
				row.PercentLeft = &left
			}
			rows = append(rows, row)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts saved. Log in with 'codex login', then run 'codexm add'.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ALIAS\tPLAN\tEMAIL\tUSAGE\tUPDATED\tID")
	for _, acc := range accounts {
		marker := " "
		if acc.IsActive {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\t%s\n",
			marker,
			acc.DisplayName(),
			acc.AccountInfo.PlanType,
			orDash(acc.AccountInfo.Email),
			usage.Summary(acc.UsageInfo),
			relTime(acc.UpdatedAt, now),
			shortID(acc.ID),
		)
	}
	return w.Flush()
}

func runSwitch(cmd *cobra.Command, args []string) error {
	acc, err := cur.repo.Resolve(args[0])
	if err != nil {
		return err
	}
	switched, err := cur.engine.SwitchTo(cmd.Context(), acc.ID)
	if err != nil {
		return fmt.Errorf("switch to %s: %w", acc.DisplayName(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", switched.DisplayName())
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	activateNext, _ := cmd.Flags().GetBool("activate-next")
	acc, err := cur.repo.Resolve(args[0])
	if err != nil {
		return err
	}

	removed, err := cur.engine.RemoveAccount(cmd.Context(), acc.ID)
	var credErr *account.CredentialIOError
	if err != nil && !errors.As(err, &credErr) {
		return fmt.Errorf("remove %s: %w", acc.DisplayName(), err)
	}
	if cur.history != nil {
		if err := cur.history.ForgetAccount(cmd.Context(), removed.ID); err != nil {
			cur.logger.Warn("drop account stats", "account_id", removed.ID, "error", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", removed.DisplayName())
	if credErr != nil {
		return fmt.Errorf("stored credential of %s was not deleted, remove it by hand: %w", removed.DisplayName(), err)
	}

	if !removed.IsActive || !activateNext {
		return nil
	}
	next, ok := cur.repo.MostRecent(removed.ID)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No accounts left to activate")
		return nil
	}
	if _, err := cur.engine.SwitchTo(cmd.Context(), next.ID); err != nil {
		return fmt.Errorf("activate %s: %w", next.DisplayName(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", next.DisplayName())
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	acc, err := cur.repo.Resolve(args[0])
	if err != nil {
		return err
	}
	renamed, err := cur.engine.RenameAccount(cmd.Context(), acc.ID, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", acc.DisplayName(), renamed.Alias)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func relTime(ts string, now time.Time) string {
	t, err := account.ParseTimestamp(ts)
	if err != nil {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
