package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

type viewState int

const (
	stateList viewState = iota
	stateConfirmDelete
	stateHelp
)

// Model is the Bubble Tea model of the account picker.
type Model struct {
	ctx    context.Context
	engine *account.Engine

	panel  *AccountsPanel
	keys   keyMap
	help   help.Model
	styles Styles

	state     viewState
	pendingID string
	synced    bool

	statusMsg string
	statusErr bool

	width  int
	height int
}

// New creates a picker over engine. ctx bounds every engine call.
func New(ctx context.Context, engine *account.Engine) Model {
	styles := DefaultStyles()
	panel := NewAccountsPanel(styles)
	panel.SetAccounts(engine.Repository().Accounts())
	return Model{
		ctx:    ctx,
		engine: engine,
		panel:  panel,
		keys:   defaultKeyMap(),
		help:   help.New(),
		styles: styles,
		state:  stateList,
	}
}

// Init syncs with the live credential so the active marker is correct
// before the user acts on it.
func (m Model) Init() tea.Cmd {
	return m.doSync()
}

func (m Model) doSync() tea.Cmd {
	return func() tea.Msg {
		id, err := m.engine.SyncCurrent(m.ctx)
		return syncResultMsg{activeID: id, err: err}
	}
}

func (m Model) doSwitch(id string) tea.Cmd {
	return func() tea.Msg {
		acc, err := m.engine.SwitchTo(m.ctx, id)
		return switchResultMsg{account: acc, err: err}
	}
}

func (m Model) doAdd() tea.Cmd {
	return func() tea.Msg {
		res, err := m.engine.AddCurrent(m.ctx, account.AddOptions{})
		return addResultMsg{result: res, err: err}
	}
}

func (m Model) doRemove(id string) tea.Cmd {
	return func() tea.Msg {
		acc, err := m.engine.RemoveAccount(m.ctx, id)
		return removeResultMsg{account: acc, err: err}
	}
}

func (m *Model) refresh() {
	m.panel.SetAccounts(m.engine.Repository().Accounts())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.panel.SetWidth(msg.Width)
		m.help.Width = msg.Width
		return m, nil

	case syncResultMsg:
		m.refresh()
		if msg.err != nil {
			m.showError(msg.err, "Sync failed")
			return m, nil
		}
		if !m.synced {
			m.synced = true
			m.panel.SelectActive()
		}
		if msg.activeID == "" {
			m.showStatus("Live login does not match any saved account")
			return m, nil
		}
		if acc, err := m.engine.Repository().Get(msg.activeID); err == nil {
			m.showStatus("Active: %s", describe(acc))
		}
		return m, nil

	case switchResultMsg:
		m.refresh()
		if msg.err != nil {
			m.showError(msg.err, "Switch failed")
			return m, nil
		}
		m.showStatus("Switched to %s", describe(msg.account))
		return m, nil

	case addResultMsg:
		m.refresh()
		if msg.err != nil {
			m.showError(msg.err, "Add failed")
			return m, nil
		}
		if msg.result.Merged {
			m.showStatus("Updated %s", describe(msg.result.Account))
		} else {
			m.showStatus("Added %s", describe(msg.result.Account))
		}
		return m, nil

	case removeResultMsg:
		m.refresh()
		if msg.err != nil {
			m.showError(msg.err, "Delete failed")
			return m, nil
		}
		m.showStatus("Deleted %s", describe(msg.account))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case stateConfirmDelete:
		return m.handleConfirmKeys(msg)
	case stateHelp:
		m.state = stateList
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.state = stateHelp
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.panel.MoveUp()
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.panel.MoveDown()
		return m, nil
	case key.Matches(msg, m.keys.Enter):
		return m.handleSwitch()
	case key.Matches(msg, m.keys.Add):
		m.showStatus("Adding current login...")
		return m, m.doAdd()
	case key.Matches(msg, m.keys.Delete):
		return m.handleDelete()
	case key.Matches(msg, m.keys.Resync):
		m.showStatus("Syncing...")
		return m, m.doSync()
	}
	return m, nil
}

func (m Model) handleSwitch() (tea.Model, tea.Cmd) {
	acc, ok := m.panel.Selected()
	if !ok {
		m.showStatus("No account selected")
		return m, nil
	}
	if acc.IsActive {
		m.showStatus("'%s' is already active", acc.DisplayName())
		return m, nil
	}
	m.showStatus("Switching to %s...", acc.DisplayName())
	return m, m.doSwitch(acc.ID)
}

func (m Model) handleDelete() (tea.Model, tea.Cmd) {
	acc, ok := m.panel.Selected()
	if !ok {
		m.showStatus("No account selected")
		return m, nil
	}
	m.state = stateConfirmDelete
	m.pendingID = acc.ID
	m.showStatus("Delete '%s'? (y/n)", acc.DisplayName())
	return m, nil
}

func (m Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		id := m.pendingID
		m.state = stateList
		m.pendingID = ""
		return m, m.doRemove(id)
	case key.Matches(msg, m.keys.Cancel):
		m.state = stateList
		m.pendingID = ""
		m.showStatus("Cancelled")
		return m, nil
	}
	return m, nil
}

func (m *Model) showStatus(format string, args ...interface{}) {
	m.statusMsg = fmt.Sprintf(format, args...)
	m.statusErr = false
}

// showError maps common failures to short messages.
func (m *Model) showError(err error, context string) {
	var (
		msg   = err.Error()
		ioErr *account.CredentialIOError
	)
	switch {
	case errors.Is(err, account.ErrMissingAccountIdentity):
		msg = "credential has no user id or email"
	case errors.Is(err, account.ErrCredentialAbsent):
		msg = "no credential found (run 'codex login')"
	case errors.Is(err, account.ErrAccountNotFound):
		msg = "account no longer exists"
	case errors.As(err, &ioErr) && strings.Contains(msg, "permission denied"):
		msg = "cannot write credential file, check permissions"
	}
	m.statusMsg = fmt.Sprintf("%s: %s", context, msg)
	m.statusErr = true
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.state == stateHelp {
		return m.helpView()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.panel.View(), m.renderStatusBar())
}

func (m Model) renderStatusBar() string {
	var content string
	switch {
	case m.statusMsg != "" && m.statusErr:
		content = m.styles.StatusErr.Render(m.statusMsg)
	case m.statusMsg != "":
		content = m.styles.StatusText.Render(m.statusMsg)
	default:
		content = m.help.ShortHelpView(m.keys.ShortHelp())
	}
	return m.styles.StatusBar.Width(m.width).Render(content)
}

func (m Model) helpView() string {
	title := m.styles.Header.Render("codexm - Codex account manager")
	body := m.help.FullHelpView(m.keys.FullHelp())
	footer := m.styles.StatusText.Render("\nThe ● marks the account whose login is in auth.json.\nPress any key to return...")
	return m.styles.Help.Render(lipgloss.JoinVertical(lipgloss.Left, title, body, footer))
}

// Run starts the picker and blocks until the user quits or ctx is done.
func Run(ctx context.Context, engine *account.Engine) error {
	p := tea.NewProgram(New(ctx, engine), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
