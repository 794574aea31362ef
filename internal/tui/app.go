// Package tui is a terminal front-end for the conversation.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/avatarchat/internal/avatar"
	"github.com/normanking/avatarchat/internal/conversation"
)

// thinkInterval paces the thinking dots.
const thinkInterval = 800 * time.Millisecond

// Conversation is the part of conversation.Store the terminal uses.
type Conversation interface {
	State() conversation.State
	Subscribe(fn func(conversation.State)) func()
	SubmitAsync(ctx context.Context, text string) (conversation.Message, error)
}

type stateMsg conversation.State

type avatarMsg avatar.State

type thinkTickMsg struct{}

type submitResultMsg struct {
	text string
	err  error
}

// App is the Bubble Tea model.
type App struct {
	ctx    context.Context
	conv   Conversation
	avatar *avatar.Controller

	width, height int
	chat          *Chat
	input         *Input
	help          help.Model
	keys          KeyMap

	state    conversation.State
	face     avatar.State
	thinking bool // a tick is scheduled
	dots     int
	err      string
}

// NewApp creates the model. ctrl may be nil.
func NewApp(ctx context.Context, conv Conversation, ctrl *avatar.Controller) *App {
	a := &App{
		ctx:    ctx,
		conv:   conv,
		avatar: ctrl,
		chat:   NewChat(),
		input:  NewInput(),
		help:   help.New(),
		keys:   DefaultKeyMap,
		state:  conv.State(),
	}
	if ctrl != nil {
		a.face = ctrl.GetState()
	}
	a.chat.SetMessages(a.state.History)
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.chat.Init(), a.input.Init(), a.startThinking())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Camera):
			if a.avatar != nil {
				a.avatar.ToggleCamera()
			}
			return a, nil
		case key.Matches(msg, a.keys.Send):
			return a, a.submit()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case stateMsg:
		st := conversation.State(msg)
		if st.Version <= a.state.Version {
			return a, nil
		}
		a.state = st
		a.chat.SetMessages(st.History)
		return a, a.startThinking()

	case avatarMsg:
		a.face = avatar.State(msg)
		return a, nil

	case thinkTickMsg:
		if !a.state.Pending {
			a.thinking = false
			a.dots = 0
			return a, nil
		}
		a.dots = (a.dots + 1) % 4
		return a, thinkTick()

	case submitResultMsg:
		if msg.err != nil {
			a.err = msg.err.Error()
			if a.input.Value() == "" {
				a.input.SetValue(msg.text)
			}
			return a, nil
		}
		a.err = ""
		return a, nil
	}

	var cmd tea.Cmd
	a.chat, cmd = a.chat.Update(msg)
	cmds = append(cmds, cmd)
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// submit clears the input and hands the text to the store. A rejected
// submission puts the text back.
func (a *App) submit() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return nil
	}
	a.input.Reset()

	conv, ctx := a.conv, a.ctx
	return func() tea.Msg {
		_, err := conv.SubmitAsync(ctx, text)
		return submitResultMsg{text: text, err: err}
	}
}

// startThinking schedules the dot animation when an exchange is pending
// and none is running yet.
func (a *App) startThinking() tea.Cmd {
	if !a.state.Pending || a.thinking {
		return nil
	}
	a.thinking = true
	a.dots = 0
	return thinkTick()
}

func thinkTick() tea.Cmd {
	return tea.Tick(thinkInterval, func(time.Time) tea.Msg {
		return thinkTickMsg{}
	})
}

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	header := a.headerView()
	status := a.statusView()
	inputBar := a.input.View(a.width)
	footer := a.footerView()

	chatHeight := a.height - lipgloss.Height(header) - lipgloss.Height(status) -
		lipgloss.Height(inputBar) - lipgloss.Height(footer)
	chatView := a.chat.View(a.width, max(chatHeight, 3))

	return lipgloss.JoinVertical(lipgloss.Left, header, chatView, status, inputBar, footer)
}

func (a *App) headerView() string {
	camera := "wide"
	if a.face.CameraZoomed {
		camera = "close-up"
	}
	title := fmt.Sprintf("Avatar %s  %s | camera: %s", faceGlyph(a.face), a.face.Emotion, camera)
	return HeaderStyle.Width(a.width).Render(title)
}

func (a *App) statusView() string {
	switch {
	case a.err != "":
		return ErrorStyle.Render(" " + a.err)
	case a.state.Pending:
		return ThinkingStyle.Render(" Avatar is thinking" + strings.Repeat(".", a.dots))
	case a.face.IsListening:
		return ThinkingStyle.Render(" Listening...")
	default:
		return ""
	}
}

func (a *App) footerView() string {
	status := "Ready"
	if a.state.Pending {
		status = "Processing"
	}
	left := fmt.Sprintf("%d messages • %s", len(a.state.History), status)
	return FooterStyle.Render(left + "  " + a.help.View(a.keys))
}

// mouthGlyphs draws each mouth shape as one character.
var mouthGlyphs = map[avatar.MouthShape]string{
	avatar.MouthClosed: "‿",
	avatar.MouthAh:     "O",
	avatar.MouthOh:     "o",
	avatar.MouthEe:     "▭",
	avatar.MouthIH:     "⌓",
	avatar.MouthOO:     "°",
	avatar.MouthFV:     "ᵥ",
	avatar.MouthTH:     "ᵗ",
	avatar.MouthMBP:    "‒",
	avatar.MouthLNT:    "ₒ",
	avatar.MouthCH:     "▿",
	avatar.MouthK:      "ᴗ",
	avatar.MouthWQ:     "ω",
}

func faceGlyph(s avatar.State) string {
	eye := "◉"
	if s.EyeState == avatar.EyeClosed {
		eye = "–"
	}
	mouth, ok := mouthGlyphs[s.MouthShape]
	if !ok {
		mouth = mouthGlyphs[avatar.MouthClosed]
	}
	return "(" + eye + mouth + eye + ")"
}

// Run starts the terminal UI and blocks until the user quits or ctx ends.
// The store and controller are subscribed for the lifetime of the program.
func Run(ctx context.Context, conv Conversation, ctrl *avatar.Controller) error {
	app := NewApp(ctx, conv, ctrl)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	// Listeners must not block, so delivery happens on a fresh goroutine.
	// Out-of-order snapshots are dropped by version in Update.
	unsubscribe := conv.Subscribe(func(st conversation.State) {
		go p.Send(stateMsg(st))
	})
	defer unsubscribe()

	if ctrl != nil {
		ctrl.SetStateHandler(func(st avatar.State) {
			go p.Send(avatarMsg(st))
		})
		defer ctrl.SetStateHandler(nil)
	}

	_, err := p.Run()
	return err
}
