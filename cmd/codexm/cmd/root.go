// Package cmd implements the codexm command line.
//
// codexm keeps a set of Codex CLI logins and swaps the live
// $CODEX_HOME/auth.json between them. Every account is recognised by the
// identity in its id token, so logging in again with the same account
// refreshes the saved copy instead of adding a duplicate.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/codex_account_manager/internal/config"
	"github.com/Dicklesworthstone/codex_account_manager/internal/tui"
)

// annotationNoApp marks commands that only need the settings file.
const annotationNoApp = "codexm/no-app"

var (
	cfg     *config.Config
	cur     *app
	verbose bool
	cfgPath string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "codexm",
	Short: "Codex account manager - keep several Codex logins and switch between them",
	Long: `codexm saves Codex CLI logins and switches the live auth.json between them.

  1. Log in with the Codex CLI:    codex login
  2. Save the login:               codexm add
  3. Repeat for every account, then switch instantly:
                                   codexm switch work

Accounts are matched by the identity in their tokens (account id, user id,
email), so re-adding a login refreshes the saved copy. 'codexm sync' marks the
account whose login is live; 'codexm watch' keeps doing so in the background.

Run 'codexm' without arguments on a terminal to open the interactive picker.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isTerminal() {
			return cmd.Help()
		}
		return tui.Run(cmd.Context(), cur.engine)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			cfg, err = config.LoadFrom(cfgPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.SlogLevel()
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		if cmd.Annotations[annotationNoApp] == "true" {
			return nil
		}
		cur, err = openApp(cmd.Context(), cfg, logger)
		return err
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if closeErr := closeApp(); err == nil {
		err = closeErr
	}
	return err
}

// closeApp releases what PersistentPreRunE opened. cobra skips post-run hooks
// when a command fails, so this runs after Execute instead.
func closeApp() error {
	if cur == nil {
		return nil
	}
	err := cur.Close()
	cur = nil
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "settings file (default "+config.Path()+")")
}

// isTerminal returns true if stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
