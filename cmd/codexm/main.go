// Package main is the entry point for codexm, the Codex account manager.
package main

import (
	"os"

	"github.com/Dicklesworthstone/codex_account_manager/cmd/codexm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
