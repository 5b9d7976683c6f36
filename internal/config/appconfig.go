package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

var appSetters = map[string]func(*account.AppConfig, string) error{
	"auto_refresh_interval": func(c *account.AppConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("auto_refresh_interval must be a non-negative number of minutes")
		}
		c.AutoRefreshInterval = n
		return nil
	},
	"codex_path": func(c *account.AppConfig, v string) error {
		c.CodexPath = v
		return nil
	},
	"theme": func(c *account.AppConfig, v string) error {
		switch v {
		case "light", "dark", "system":
			c.Theme = v
			return nil
		}
		return fmt.Errorf("theme must be one of: light, dark, system")
	},
	"proxy_enabled": func(c *account.AppConfig, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		c.ProxyEnabled = b
		return nil
	},
	"proxy_url": func(c *account.AppConfig, v string) error {
		if v != "" {
			u, err := url.Parse(v)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("proxy_url must be an absolute URL, got %q", v)
			}
		}
		c.ProxyURL = v
		return nil
	},
}

// AppSettingKeys lists the keys accepted by SetAppSetting.
func AppSettingKeys() []string {
	keys := make([]string, 0, len(appSetters))
	for k := range appSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetAppSetting parses value and assigns it to the preference named key.
func SetAppSetting(c *account.AppConfig, key, value string) error {
	set, ok := appSetters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(AppSettingKeys(), ", "))
	}
	return set(c, strings.TrimSpace(value))
}
