package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/models"
)

// Model represents the main UI model
type Model struct {
	directory  interfaces.Directory
	dispatcher interfaces.Dispatcher
	server     interfaces.ServerChannel
	peers      interfaces.PeerChannel

	// UI components
	messagesViewport viewport.Model
	input            textinput.Model

	// State
	username    string
	counterpart string
	usePeer     bool
	lastNotice  string

	// UI state
	ready        bool
	showHelp     bool
	windowWidth  int
	windowHeight int

	// Styles
	styles *Styles

	// Program reference for sending messages from goroutines
	program *tea.Program
}

// Styles contains all UI styles
type Styles struct {
	BorderColor lipgloss.Color
	SentColor   lipgloss.Color
	RecvColor   lipgloss.Color
	SystemColor lipgloss.Color
	ErrorColor  lipgloss.Color
	FriendColor lipgloss.Color

	BorderStyle  lipgloss.Style
	InputStyle   lipgloss.Style
	MessageStyle lipgloss.Style
	SystemStyle  lipgloss.Style
	FailedStyle  lipgloss.Style
	StatusStyle  lipgloss.Style
	HelpStyle    lipgloss.Style
}

// NewStyles creates new UI styles
func NewStyles() *Styles {
	return &Styles{
		BorderColor: lipgloss.Color("#00D4AA"),
		SentColor:   lipgloss.Color("#00E676"),
		RecvColor:   lipgloss.Color("#40C4FF"),
		SystemColor: lipgloss.Color("#FFB74D"),
		ErrorColor:  lipgloss.Color("#FF5252"),
		FriendColor: lipgloss.Color("#E040FB"),

		BorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00D4AA")),

		InputStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF6B9D")).
			Padding(0, 1),

		MessageStyle: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#FFFFFF")),

		SystemStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB74D")).
			Italic(true),

		FailedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5252")).
			Strikethrough(false),

		StatusStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("#16213E")).
			Foreground(lipgloss.Color("#00D4AA")).
			Padding(0, 1),

		HelpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#40C4FF")).
			Background(lipgloss.Color("#0F3460")).
			Padding(1),
	}
}

// NewModel creates a new UI model wired to the dispatcher and channels
func NewModel(username string, dir interfaces.Directory, disp interfaces.Dispatcher, server interfaces.ServerChannel, peers interfaces.PeerChannel) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Focus()
	input.CharLimit = 280
	input.Width = 50

	model := &Model{
		directory:        dir,
		dispatcher:       disp,
		server:           server,
		peers:            peers,
		messagesViewport: viewport.New(80, 20),
		input:            input,
		username:         username,
		styles:           NewStyles(),
	}

	listener := &dispatchListener{model: model}
	disp.SubscribeMessages(listener)
	disp.SubscribeStatus(listener)

	return model
}

// SetProgram sets the program reference for sending messages from goroutines
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
}

// Init returns initial commands for Bubble Tea
func (m *Model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

// Update handles Bubble Tea update messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.messagesViewport.Width = msg.Width - 4
		m.messagesViewport.Height = msg.Height - 7
		m.input.Width = msg.Width - 6
		m.ready = true
		m.refreshConversation()

	case tea.KeyMsg:
		if _, cmd := m.handleKeyMsg(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case refreshConversationMsg:
		m.refreshConversation()

	case noticeMsg:
		m.lastNotice = msg.notice.Content

	case errorMsg:
		m.lastNotice = fmt.Sprintf("Error: %s", msg.err)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	m.messagesViewport, cmd = m.messagesViewport.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current UI state
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	fullView := lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderMessages(),
		m.renderInput(),
		m.renderStatusBar(),
	)

	if m.showHelp {
		fullView = lipgloss.JoinVertical(lipgloss.Left, fullView, m.renderHelp())
	}

	return fullView
}

// handleKeyMsg handles keyboard input
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "enter":
		return m.handleSendMessage()

	case "?":
		if m.input.Value() == "" {
			m.showHelp = !m.showHelp
			return m, nil
		}
	}

	return m, nil
}

// handleSendMessage sends the current input as a message
func (m *Model) handleSendMessage() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	if m.counterpart == "" {
		m.lastNotice = "No conversation selected, use /chat <username>"
		return m, nil
	}

	var err error
	if m.usePeer {
		err = m.peers.Send(m.counterpart, input)
	} else {
		err = m.server.Send(models.ByUsername(m.counterpart), input)
	}
	m.input.Reset()
	m.refreshConversation()

	if err != nil {
		return m, func() tea.Msg { return errorMsg{err} }
	}
	return m, nil
}

// handleCommand handles slash commands
func (m *Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.SplitN(input, " ", 2)
	command := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "/chat":
		if args == "" {
			m.lastNotice = "Usage: /chat <username>"
		} else {
			m.counterpart = args
			m.usePeer = false
			m.lastNotice = fmt.Sprintf("Chatting with %s via relay", args)
			m.refreshConversation()
		}

	case "/peer":
		if m.counterpart == "" {
			m.lastNotice = "No conversation selected, use /chat <username>"
		} else {
			m.usePeer = true
			m.lastNotice = fmt.Sprintf("Switched to direct channel for %s", m.counterpart)
		}

	case "/relay":
		m.usePeer = false
		m.lastNotice = "Switched to relay channel"

	case "/connect":
		if err := m.server.Connect(); err != nil {
			m.input.Reset()
			return m, func() tea.Msg { return errorMsg{err} }
		}
		m.lastNotice = "Relay connection requested"

	case "/clear":
		if m.counterpart == "" {
			m.lastNotice = "No conversation selected"
		} else {
			m.dispatcher.Clear(m.counterpart)
			m.refreshConversation()
			m.lastNotice = fmt.Sprintf("Cleared conversation with %s", m.counterpart)
		}

	case "/friends":
		friends := m.directory.Friends()
		if len(friends) == 0 {
			m.lastNotice = "Friends list is empty"
		} else {
			names := make([]string, 0, len(friends))
			for _, f := range friends {
				marker := ""
				if f.IsOnline {
					marker = "*"
				}
				names = append(names, f.Username+marker)
			}
			m.lastNotice = "Friends: " + strings.Join(names, ", ")
		}

	case "/help":
		m.showHelp = !m.showHelp

	case "/quit":
		return m, tea.Quit

	default:
		m.lastNotice = fmt.Sprintf("Unknown command: %s", command)
	}

	m.input.Reset()
	return m, nil
}

// refreshConversation refreshes the messages viewport from history
func (m *Model) refreshConversation() {
	if m.counterpart == "" {
		m.messagesViewport.SetContent(m.styles.SystemStyle.Render("Select a conversation with /chat <username>"))
		return
	}

	history := m.dispatcher.History(m.counterpart)

	var content strings.Builder
	for _, envelope := range history {
		content.WriteString(m.formatEnvelope(envelope))
		content.WriteString("\n")
	}

	m.messagesViewport.SetContent(content.String())
	m.messagesViewport.GotoBottom()
}

// formatEnvelope formats one history entry for display
func (m *Model) formatEnvelope(envelope *models.Envelope) string {
	ts := envelope.Timestamp.Format("15:04")

	from := envelope.Counterpart
	color := m.styles.RecvColor
	if envelope.Direction == models.DirectionSent {
		from = m.username
		color = m.styles.SentColor
	}

	content := envelope.Content
	if models.IsAttachment(content) {
		content = "[attachment]"
	}

	suffix := ""
	switch envelope.Status {
	case models.StatusFailed:
		suffix = " (queued)"
	case models.StatusSending:
		suffix = " (sending)"
	}
	if envelope.Channel == models.ChannelPeer {
		suffix += " [direct]"
	}

	line := fmt.Sprintf("[%s] %s: %s%s", ts, from, content, suffix)
	if envelope.Status == models.StatusFailed {
		return m.styles.FailedStyle.Render(line)
	}
	return m.styles.MessageStyle.Foreground(color).Render(line)
}

// renderMessages renders the messages viewport
func (m *Model) renderMessages() string {
	return m.styles.BorderStyle.
		Width(m.windowWidth - 2).
		Height(m.windowHeight - 7).
		Render(m.messagesViewport.View())
}

// renderInput renders the input field
func (m *Model) renderInput() string {
	return m.styles.InputStyle.
		Width(m.windowWidth - 4).
		Render(m.input.View())
}

// renderStatusBar renders the status bar
func (m *Model) renderStatusBar() string {
	channel := "relay"
	if m.usePeer {
		channel = "direct"
	}

	conversation := "none"
	if m.counterpart != "" {
		conversation = m.counterpart
		if queued := m.peers.QueuedCount(m.counterpart); queued > 0 {
			conversation = fmt.Sprintf("%s (%d queued)", m.counterpart, queued)
		}
	}

	status := fmt.Sprintf("User: %s | Chat: %s | Channel: %s | Relay: %s",
		m.username, conversation, channel, m.server.State())
	if m.lastNotice != "" {
		status += " | " + m.lastNotice
	}

	return m.styles.StatusStyle.
		Width(m.windowWidth).
		Render(status)
}

// renderHelp renders the help text
func (m *Model) renderHelp() string {
	help := `Commands:
  /chat <username>    - Open a conversation
  /peer               - Use the direct channel for this conversation
  /relay              - Use the relay channel
  /connect            - Reconnect to the relay server
  /clear              - Clear the current conversation
  /friends            - List friends
  /help               - Toggle this help
  /quit               - Exit

Keys:
  Enter               - Send message
  ?                   - Toggle help (with empty input)
  Ctrl+C              - Quit`

	return m.styles.HelpStyle.
		Width(m.windowWidth - 4).
		Render(help)
}

// Message types for Bubble Tea
type refreshConversationMsg struct{}
type noticeMsg struct{ notice models.Notice }
type errorMsg struct{ err error }

// dispatchListener bridges dispatcher broadcasts into the Bubble Tea
// runtime. Broadcasts arrive on channel goroutines, so they are forwarded
// with program.Send rather than touching the model directly.
type dispatchListener struct {
	model *Model
}

var _ interfaces.MessageListener = (*dispatchListener)(nil)
var _ interfaces.StatusListener = (*dispatchListener)(nil)

func (l *dispatchListener) OnMessage(counterpart string, envelope *models.Envelope) {
	go func() {
		if l.model.program != nil {
			l.model.program.Send(refreshConversationMsg{})
		}
	}()
}

func (l *dispatchListener) OnNotice(notice models.Notice) {
	go func() {
		if l.model.program != nil {
			l.model.program.Send(noticeMsg{notice: notice})
		}
	}()
}
