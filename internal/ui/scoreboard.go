package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/findit/internal/game"
	"github.com/BioHazard786/findit/internal/round"
)

const refreshInterval = 50 * time.Millisecond

// Game is what the scoreboard drives.
type Game interface {
	State() game.State
	StartRound(ctx context.Context) error
	PauseResume() error
	ResetClock() error
}

type tickMsg time.Time

type updateMsg struct{}

type errMsg struct{ err error }

// Scoreboard is the bubbletea model of a running game.
type Scoreboard struct {
	game    Game
	updates <-chan struct{}
	spinner spinner.Model

	state    game.State
	status   string
	err      error
	quitting bool
}

// NewScoreboard returns a model for g. updates, if not nil, signals state
// changes pushed by the other player.
func NewScoreboard(g Game, updates <-chan struct{}) *Scoreboard {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &Scoreboard{game: g, updates: updates, spinner: s, state: g.State()}
}

// Final returns the last state shown.
func (m *Scoreboard) Final() game.State {
	return m.state
}

func (m *Scoreboard) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.listen())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Scoreboard) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-m.updates; !ok {
			return nil
		}
		return updateMsg{}
	}
}

func (m *Scoreboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.state = m.game.State()
		if m.quitting {
			return m, nil
		}
		return m, tick()

	case updateMsg:
		m.state = m.game.State()
		return m, m.listen()

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Scoreboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "n":
		m.status = "Next round"
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.game.StartRound(ctx); err != nil {
				return errMsg{err}
			}
			return updateMsg{}
		}

	case "p":
		if err := m.game.PauseResume(); err != nil {
			m.err = err
		}

	case "r":
		if err := m.game.ResetClock(); err != nil {
			m.err = err
		}
	}
	m.state = m.game.State()
	return m, nil
}

func (m *Scoreboard) View() string {
	if m.quitting {
		return ""
	}
	st := m.state

	var b strings.Builder
	b.WriteString(TitleStyle.Render("FindIt") + MutedStyle.Render("  call "+st.CallID) + "\n\n")

	b.WriteString(fmt.Sprintf("%s Find: %s", IconTarget, WordStyle.Render(st.Word)))
	if st.Round > 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  round %d", st.Round)))
	}
	b.WriteString("\n\n")

	clock := ClockStyle.Render(round.Format(st.Elapsed))
	if st.Paused {
		clock += " " + IconPause
	}
	b.WriteString(fmt.Sprintf("%s %s\n\n", IconTime, clock))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		ScoreBoxStyle.Render(fmt.Sprintf("You\n%s", BoldStyle.Render(fmt.Sprint(st.LocalScore)))),
		"  ",
		ScoreBoxStyle.Render(fmt.Sprintf("Opponent\n%s", BoldStyle.Render(fmt.Sprint(st.RemoteScore)))),
	))
	b.WriteString("\n\n")

	switch {
	case st.RoundDecided:
		b.WriteString(SuccessStyle.Render(IconSuccess+" You found it! Waiting for the next round") + "\n")
	case st.LastResult != nil:
		b.WriteString(fmt.Sprintf("%s %s looking for %s\n", m.spinner.View(), IconCamera, st.LastResult.Word))
	default:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.statusLine()))
	}

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(IconError+" "+m.err.Error()) + "\n")
	}

	b.WriteString(FooterStyle.Render("n next round • p pause/resume • r reset clock • q quit"))
	return b.String()
}

func (m *Scoreboard) statusLine() string {
	if m.status != "" {
		return m.status
	}
	if m.state.Round == 0 {
		return "Press n to start the first round"
	}
	return "Scanning"
}
