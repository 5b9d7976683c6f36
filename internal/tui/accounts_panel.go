package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
	"github.com/Dicklesworthstone/codex_account_manager/internal/usage"
)

// AccountsPanel renders the account table.
type AccountsPanel struct {
	accounts []account.StoredAccount
	selected int
	width    int
	styles   Styles
	now      func() time.Time
}

func NewAccountsPanel(styles Styles) *AccountsPanel {
	return &AccountsPanel{styles: styles, now: time.Now}
}

// SetAccounts replaces the rows, keeping the selection on the same account
// id when it still exists.
func (p *AccountsPanel) SetAccounts(accounts []account.StoredAccount) {
	var selectedID string
	if acc, ok := p.Selected(); ok {
		selectedID = acc.ID
	}
	p.accounts = accounts
	for i, acc := range accounts {
		if acc.ID == selectedID {
			p.selected = i
			return
		}
	}
	if p.selected >= len(p.accounts) {
		p.selected = max(0, len(p.accounts)-1)
	}
}

// SelectActive moves the selection to the active account, if any.
func (p *AccountsPanel) SelectActive() {
	for i, acc := range p.accounts {
		if acc.IsActive {
			p.selected = i
			return
		}
	}
}

func (p *AccountsPanel) Selected() (account.StoredAccount, bool) {
	if p.selected >= 0 && p.selected < len(p.accounts) {
		return p.accounts[p.selected], true
	}
	return account.StoredAccount{}, false
}

func (p *AccountsPanel) SelectedIndex() int { return p.selected }

func (p *AccountsPanel) Len() int { return len(p.accounts) }

func (p *AccountsPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

func (p *AccountsPanel) MoveDown() {
	if p.selected < len(p.accounts)-1 {
		p.selected++
	}
}

func (p *AccountsPanel) SetWidth(width int) {
	p.width = width
}

var columns = struct {
	alias, plan, email, usage, updated int
}{alias: 18, plan: 10, email: 28, usage: 18, updated: 14}

// View renders the panel.
func (p *AccountsPanel) View() string {
	title := p.styles.Header.Render("Codex Accounts")

	if len(p.accounts) == 0 {
		empty := p.styles.Empty.Render("No accounts saved\n\nLog in with 'codex login', then press 'a' to add it")
		return p.border(lipgloss.JoinVertical(lipgloss.Left, title, empty))
	}

	header := p.styles.ColumnHeader.Render(strings.Join([]string{
		padRight("  Alias", columns.alias),
		padRight("Plan", columns.plan),
		padRight("Email", columns.email),
		padRight("Usage", columns.usage),
		padRight("Updated", columns.updated),
	}, " "))

	rows := []string{header}
	for i, acc := range p.accounts {
		indicator := "  "
		if acc.IsActive {
			indicator = p.styles.Active.Render("● ")
		}

		email := acc.AccountInfo.Email
		if email == "" {
			email = "-"
		}

		usageText := padRight(usage.Summary(acc.UsageInfo), columns.usage)
		if acc.UsageInfo != nil {
			usageText = p.styles.UsageStyle(usage.MinPercentLeft(acc.UsageInfo)).Render(usageText)
		}

		row := strings.Join([]string{
			indicator + padRight(truncate(acc.DisplayName(), columns.alias-2), columns.alias-2),
			p.styles.Plan.Render(padRight(string(acc.AccountInfo.PlanType), columns.plan)),
			padRight(truncate(email, columns.email), columns.email),
			usageText,
			padRight(p.relative(acc.UpdatedAt), columns.updated),
		}, " ")

		style := p.styles.Row
		if i == p.selected {
			style = p.styles.SelectedRow
		}
		rows = append(rows, style.Render(row))
	}

	return p.border(lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, rows...)))
}

func (p *AccountsPanel) border(inner string) string {
	if p.width > 2 {
		return p.styles.Border.Width(p.width - 2).Render(inner)
	}
	return p.styles.Border.Render(inner)
}

func (p *AccountsPanel) relative(stamp string) string {
	t, err := account.ParseTimestamp(stamp)
	if err != nil {
		return "-"
	}
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

// padRight pads a string to the right with spaces, counting runes.
func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// truncate shortens s to width runes.
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func describe(acc account.StoredAccount) string {
	if acc.AccountInfo.Email != "" && acc.AccountInfo.Email != acc.DisplayName() {
		return fmt.Sprintf("%s (%s)", acc.DisplayName(), acc.AccountInfo.Email)
	}
	return acc.DisplayName()
}
