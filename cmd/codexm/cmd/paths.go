package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/codex_account_manager/internal/config"
)

var pathsCmd = &cobra.Command{
	Use:         "paths",
	Short:       "Show where codexm and Codex keep their files",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationNoApp: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := cfgPath
		if settings == "" {
			settings = config.Path()
		}
		rows := []struct{ name, path string }{
			{"settings", settings},
			{"accounts", cfg.StoreFile()},
			{"credentials", cfg.AuthDir()},
			{"history", cfg.HistoryDB()},
			{"codex home", cfg.CodexHome()},
			{"sessions", cfg.SessionsDir()},
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, r := range rows {
			state := ""
			if _, err := os.Stat(r.path); err != nil {
				state = "(missing)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.name, r.path, state)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}
