package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show settings and edit account preferences",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings and the stored preferences",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the settings file location",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationNoApp: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.Path()
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a stored preference",
	Long: `Sets a preference kept alongside the accounts.

Keys: ` + strings.Join(config.AppSettingKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// preferencesYAML mirrors account.AppConfig with yaml keys matching the
// names accepted by `config set`.
type preferencesYAML struct {
	AutoRefreshInterval int    `yaml:"auto_refresh_interval"`
	CodexPath           string `yaml:"codex_path"`
	Theme               string `yaml:"theme"`
	ProxyEnabled        bool   `yaml:"proxy_enabled"`
	ProxyURL            string `yaml:"proxy_url"`
}

func toPreferences(c account.AppConfig) preferencesYAML {
	return preferencesYAML{
		AutoRefreshInterval: c.AutoRefreshInterval,
		CodexPath:           c.CodexPath,
		Theme:               c.Theme,
		ProxyEnabled:        c.ProxyEnabled,
		ProxyURL:            c.ProxyURL,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	doc := struct {
		Settings    *config.Config  `yaml:"settings"`
		Preferences preferencesYAML `yaml:"preferences"`
	}{cur.cfg, toPreferences(cur.repo.Config())}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	updated, err := cur.repo.UpdateConfig(cmd.Context(), func(c *account.AppConfig) error {
		return config.SetAppSetting(c, key, value)
	})
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(toPreferences(updated))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n%s", strings.ToLower(key), data)
	return nil
}
