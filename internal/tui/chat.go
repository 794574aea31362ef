package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/avatarchat/internal/conversation"
)

// Chat shows the conversation history. The reply being played is
// highlighted.
type Chat struct {
	viewport viewport.Model
	messages []conversation.Message
	width    int
}

func NewChat() *Chat {
	vp := viewport.New(0, 0)
	vp.SetContent("Waiting for the avatar to say hello...\n")
	return &Chat{viewport: vp}
}

func (c *Chat) Init() tea.Cmd {
	return nil
}

func (c *Chat) Update(msg tea.Msg) (*Chat, tea.Cmd) {
	var cmd tea.Cmd
	c.viewport, cmd = c.viewport.Update(msg)
	return c, cmd
}

func (c *Chat) View(width, height int) string {
	if width != c.width {
		c.width = width
		c.viewport.Width = max(width-4, 1)
		c.updateContent()
	}
	c.viewport.Height = max(height-2, 1)
	return ChatPanelStyle.Width(width - 2).Height(height - 2).Render(c.viewport.View())
}

// SetMessages replaces the history and scrolls to the newest message.
func (c *Chat) SetMessages(msgs []conversation.Message) {
	c.messages = msgs
	c.updateContent()
	c.viewport.GotoBottom()
}

func (c *Chat) updateContent() {
	if len(c.messages) == 0 {
		return
	}

	wrap := lipgloss.NewStyle()
	if c.viewport.Width > 0 {
		wrap = wrap.Width(c.viewport.Width)
	}

	var sb strings.Builder
	for _, msg := range c.messages {
		sb.WriteString(wrap.Render(renderMessage(msg)))
		sb.WriteString("\n")
	}
	c.viewport.SetContent(sb.String())
}

func renderMessage(msg conversation.Message) string {
	switch {
	case msg.Role == conversation.RoleUser:
		return UserMessageStyle.Render("you: " + msg.Content)
	case msg.Synthetic:
		return ApologyStyle.Render("avatar: " + msg.Content)
	case msg.Playback == conversation.PlaybackActive:
		return ActiveMessageStyle.Render("▶ avatar: " + msg.Content)
	default:
		return AssistantMessageStyle.Render("avatar: " + msg.Content)
	}
}
