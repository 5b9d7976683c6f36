package tui

import "github.com/Dicklesworthstone/codex_account_manager/internal/account"

type syncResultMsg struct {
	activeID string
	err      error
}

type switchResultMsg struct {
	account account.StoredAccount
	err     error
}

type addResultMsg struct {
	result account.AddResult
	err    error
}

type removeResultMsg struct {
	account account.StoredAccount
	err     error
}
