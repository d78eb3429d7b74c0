package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/macbot-ai/macbot-core/core/config"
	"github.com/macbot-ai/macbot-core/core/events"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live TUI attached to a running assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.Dial("ws://"+cfg.Web.Bind+"/ws", nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s (is `macbot run` running?): %w", cfg.Web.Bind, err)
		}
		defer conn.Close()

		program := tea.NewProgram(newDashboard(conn), tea.WithAltScreen())
		_, err = program.Run()
		return err
	},
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("57")).Padding(0, 1)
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("57")).MarginTop(1)
	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	botStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
	healthyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	brokenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const maxVisibleTurns = 8

type wireEnvelope struct {
	Kind    events.Kind     `json:"type"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

type envelopeMsg wireEnvelope

type wsErrMsg struct{ err error }

func listen(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsErrMsg{err}
		}

		var envelope wireEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return wsErrMsg{err}
		}
		return envelopeMsg(envelope)
	}
}

type dashboardModel struct {
	conn *websocket.Conn

	input   textinput.Model
	spinner spinner.Model

	state    string
	turns    []events.ConversationUpdate
	services map[string]events.ServiceStatus
	stats    *events.SystemStats

	width int
	err   error
}

func newDashboard(conn *websocket.Conn) dashboardModel {
	input := textinput.New()
	input.Placeholder = "say something (enter to send, ctrl+x to interrupt, esc to quit)"
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot

	return dashboardModel{
		conn:     conn,
		input:    input,
		spinner:  s,
		state:    "idle",
		services: map[string]events.ServiceStatus{},
		width:    80,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(listen(m.conn), m.spinner.Tick, textinput.Blink)
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+x":
			_ = m.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"interrupt"}`))
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				frame, _ := json.Marshal(map[string]string{"type": "user_input", "text": text})
				_ = m.conn.WriteMessage(websocket.TextMessage, frame)
				m.input.Reset()
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case envelopeMsg:
		m.apply(wireEnvelope(msg))
		return m, listen(m.conn)

	case wsErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m *dashboardModel) apply(envelope wireEnvelope) {
	switch envelope.Kind {
	case events.KindAssistantState:
		var state events.AssistantState
		if json.Unmarshal(envelope.Payload, &state) == nil {
			m.state = state.State
		}

	case events.KindConversationUpdate:
		var update events.ConversationUpdate
		if json.Unmarshal(envelope.Payload, &update) != nil {
			return
		}
		// Streaming updates amend the in-flight assistant turn instead of
		// appending a new line per fragment.
		if n := len(m.turns); n > 0 &&
			m.turns[n-1].Role == update.Role &&
			m.turns[n-1].Role == "assistant" &&
			!m.turns[n-1].Complete && !m.turns[n-1].Interrupted {
			m.turns[n-1] = update
		} else {
			m.turns = append(m.turns, update)
		}
		if len(m.turns) > maxVisibleTurns {
			m.turns = m.turns[len(m.turns)-maxVisibleTurns:]
		}

	case events.KindServiceStatus:
		var status events.ServiceStatus
		if json.Unmarshal(envelope.Payload, &status) == nil {
			m.services[status.Service] = status
		}

	case events.KindSystemStats:
		var stats events.SystemStats
		if json.Unmarshal(envelope.Payload, &stats) == nil {
			m.stats = &stats
		}
	}
}

func (m dashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("macbot") + "  " + m.stateLine() + "\n")

	b.WriteString(sectionStyle.Render("Conversation") + "\n")
	if len(m.turns) == 0 {
		b.WriteString(faintStyle.Render("  no turns yet") + "\n")
	}
	for _, turn := range m.turns {
		b.WriteString(m.renderTurn(turn))
	}

	b.WriteString(sectionStyle.Render("Services") + "\n")
	if len(m.services) == 0 {
		b.WriteString(faintStyle.Render("  waiting for health reports") + "\n")
	}
	for _, status := range m.services {
		b.WriteString(fmt.Sprintf("  %-20s %s  %4dms  breaker:%s\n",
			status.Service, renderStatus(status.Status), status.ResponseTimeMs, status.BreakerState))
	}
	if m.stats != nil {
		b.WriteString(faintStyle.Render(fmt.Sprintf("  cpu %.0f%%  mem %.0f%%  disk %.0f%%",
			m.stats.CPUPercent, m.stats.MemoryPercent, m.stats.DiskPercent)) + "\n")
	}

	b.WriteString("\n" + m.input.View() + "\n")
	if m.err != nil {
		b.WriteString(brokenStyle.Render("connection lost: "+m.err.Error()) + "\n")
	}
	return b.String()
}

func (m dashboardModel) stateLine() string {
	switch m.state {
	case "thinking":
		return m.spinner.View() + degradedStyle.Render("thinking")
	case "speaking":
		return botStyle.Render("speaking")
	case "listening":
		return healthyStyle.Render("listening")
	case "interrupted":
		return brokenStyle.Render("interrupted")
	default:
		return faintStyle.Render(m.state)
	}
}

func (m dashboardModel) renderTurn(turn events.ConversationUpdate) string {
	style := botStyle
	label := "bot"
	if turn.Role == "user" {
		style = userStyle
		label = "you"
	}

	text := turn.Text
	if turn.Interrupted {
		text += faintStyle.Render(" [interrupted]")
	} else if !turn.Complete {
		text += faintStyle.Render(" …")
	}

	width := m.width - 8
	if width < 20 {
		width = 20
	}
	wrapped := wordwrap.String(text, width)
	indented := strings.ReplaceAll(wrapped, "\n", "\n      ")
	return style.Render(fmt.Sprintf("  %-3s ", label)) + indented + "\n"
}

func renderStatus(status string) string {
	switch status {
	case "healthy":
		return healthyStyle.Render(status)
	case "degraded":
		return degradedStyle.Render(status)
	default:
		return brokenStyle.Render(status)
	}
}
