package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"promptsynth/internal/genome"
	"promptsynth/internal/history"
	"promptsynth/internal/pool"
	"promptsynth/internal/session"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const autoStepInterval = 800 * time.Millisecond

// keyMap defines the dashboard keybindings.
type keyMap struct {
	Step     key.Binding
	Auto     key.Binding
	Reset    key.Binding
	Save     key.Binding
	Load     key.Binding
	Quit     key.Binding
	HelpKey  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Step:    key.NewBinding(key.WithKeys("s", "enter"), key.WithHelp("s", "step")),
		Auto:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto-run")),
		Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Save:    key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "save snapshot")),
		Load:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "load snapshot")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		HelpKey: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Auto, k.Reset, k.Save, k.Load, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Step, k.Auto, k.Reset}, {k.Save, k.Load, k.Quit}}
}

type stepResultMsg struct {
	rec   history.GenerationRecord
	frame session.Frame
	err   error
}

type autoTickMsg time.Time

// poolReloadedMsg carries a hot-reloaded gene pool from the file watcher.
type poolReloadedMsg struct {
	pool *pool.Pool
}

// Model is the bubbletea model for the evolution dashboard. The view renders
// from a frame snapshot, never from the live session: Step runs on its own
// goroutine and mutates genomes in place, so the session is only touched
// from the event loop while no step is in flight.
type Model struct {
	sess   *session.Session
	frame  session.Frame
	styles Styles
	keys   keyMap
	help   help.Model

	width       int
	auto        bool
	stepping    bool
	lastRec     history.GenerationRecord
	status      string
	err         error
	pendingPool *pool.Pool
}

// NewModel builds the dashboard model around a live session.
func NewModel(sess *session.Session) Model {
	return Model{
		sess:   sess,
		frame:  sess.Frame(),
		styles: NewStyles(DetectTheme()),
		keys:   defaultKeyMap(),
		help:   help.New(),
		status: "press s to evolve a generation",
	}
}

// Run starts the dashboard and blocks until the user quits. When the config
// names a pool file, edits to it are hot-reloaded into the session.
func Run(sess *session.Session) error {
	prog := tea.NewProgram(NewModel(sess), tea.WithAltScreen())

	if path := sess.Cfg.PoolFile; path != "" {
		w, err := pool.NewWatcher(path, func(p *pool.Pool) {
			prog.Send(poolReloadedMsg{pool: p})
		})
		if err != nil {
			return err
		}
		if err := w.Start(context.Background()); err != nil {
			return err
		}
		defer w.Stop()
	}

	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) stepCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		rec, err := sess.Step(context.Background())
		// Step has finished on this goroutine, so framing here is safe.
		return stepResultMsg{rec: rec, frame: sess.Frame(), err: err}
	}
}

func autoTick() tea.Cmd {
	return tea.Tick(autoStepInterval, func(t time.Time) tea.Msg {
		return autoTickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case poolReloadedMsg:
		// Apply between steps; Step reads the pool from its own goroutine
		if m.stepping {
			m.pendingPool = msg.pool
			return m, nil
		}
		m.sess.ReplacePool(msg.pool)
		m.frame = m.sess.Frame()
		m.status = fmt.Sprintf("pool reloaded: %d fragments", msg.pool.Size())
		return m, nil

	case stepResultMsg:
		m.stepping = false
		m.frame = msg.frame
		if m.pendingPool != nil {
			m.sess.ReplacePool(m.pendingPool)
			m.pendingPool = nil
			m.frame = m.sess.Frame()
		}
		if msg.err != nil {
			m.err = msg.err
			m.auto = false
			return m, nil
		}
		m.err = nil
		m.lastRec = msg.rec
		m.status = fmt.Sprintf("generation %d evolved in %s mode", msg.rec.Generation, msg.rec.Mode)
		if m.auto {
			return m, autoTick()
		}
		return m, nil

	case autoTickMsg:
		if !m.auto || m.stepping {
			return m, nil
		}
		m.stepping = true
		return m, m.stepCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Step):
			if m.stepping {
				return m, nil
			}
			m.stepping = true
			m.status = "evaluating population..."
			return m, m.stepCmd()

		case key.Matches(msg, m.keys.Auto):
			m.auto = !m.auto
			if m.auto {
				m.status = "auto-run on"
				if !m.stepping {
					m.stepping = true
					return m, m.stepCmd()
				}
				return m, nil
			}
			m.status = "auto-run off"
			return m, nil

		case key.Matches(msg, m.keys.Reset):
			if m.stepping {
				return m, nil
			}
			m.auto = false
			if err := m.sess.Reset(); err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.frame = m.sess.Frame()
			m.lastRec = history.GenerationRecord{}
			m.status = "fresh population spawned"
			return m, nil

		case key.Matches(msg, m.keys.Save):
			if m.stepping {
				return m, nil
			}
			path, err := m.sess.SaveSnapshot()
			if err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.status = "snapshot saved to " + path
			return m, nil

		case key.Matches(msg, m.keys.Load):
			if m.stepping {
				return m, nil
			}
			m.auto = false
			if err := m.sess.RestoreSnapshot(m.sess.Cfg.Storage.SnapshotPath); err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.frame = m.sess.Frame()
			m.lastRec = history.GenerationRecord{}
			m.status = "snapshot restored"
			return m, nil

		case key.Matches(msg, m.keys.HelpKey):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder

	title := fmt.Sprintf(" promptsynth · gen %d · seed %d ", m.frame.Generation, m.frame.Seed)
	sb.WriteString(m.styles.Header.Render(title))
	sb.WriteString("\n\n")

	sb.WriteString("  ")
	sb.WriteString(Dial(m.currentMode(), m.styles))
	sb.WriteString("\n\n")

	sb.WriteString(m.metricsView())
	sb.WriteString("\n")

	spark := Sparkline(m.frame.AvgHistory, 40)
	sb.WriteString("  ")
	sb.WriteString(m.styles.CardTitle.Render("avg fitness "))
	sb.WriteString(spark)
	sb.WriteString("\n\n")

	sb.WriteString(m.populationView())
	sb.WriteString("\n")

	sb.WriteString("  ")
	sb.WriteString(m.styles.Muted.Render(m.phaseExplanation()))
	sb.WriteString("\n\n")

	if m.err != nil {
		sb.WriteString("  ")
		sb.WriteString(m.styles.Error.Render("error: " + m.err.Error()))
		sb.WriteString("\n")
	} else {
		sb.WriteString("  ")
		sb.WriteString(m.styles.Body.Render(m.status))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.Footer.Render(m.help.View(m.keys)))
	sb.WriteString("\n")
	return sb.String()
}

// currentMode is the mode the next step will use, or the last evolved mode
// while auto-running.
func (m Model) currentMode() string {
	if m.lastRec.Generation > 0 && m.stepping {
		return string(m.lastRec.Mode)
	}
	return string(m.frame.NextMode)
}

func (m Model) metricsView() string {
	avg := "-"
	if n := len(m.frame.AvgHistory); n > 0 {
		window := m.frame.AvgHistory
		if n > 5 {
			window = window[n-5:]
		}
		var sum float64
		for _, v := range window {
			sum += v
		}
		avg = fmt.Sprintf("%.2f", sum/float64(len(window)))
	}

	best := "-"
	if n := len(m.frame.BestHistory); n > 0 {
		top := m.frame.BestHistory[0]
		for _, v := range m.frame.BestHistory[1:] {
			if v > top {
				top = v
			}
		}
		best = fmt.Sprintf("%.2f", top)
	}

	cells := []string{
		MetricCell("avg (last 5)", avg, m.styles),
		MetricCell("best", best, m.styles),
		MetricCell("diversity", fmt.Sprintf("%d", m.frame.Diversity), m.styles),
		MetricCell("commons", fmt.Sprintf("%d", m.frame.CommonsSize), m.styles),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (m Model) populationView() string {
	table := NewSimpleTable("#", "fragments", "temp", "mode", "score", "instructions")
	for i, g := range m.frame.Population {
		table.AddRow(
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%v", g.Fragments),
			fmt.Sprintf("%.2f", g.Temperature),
			string(g.Mode),
			FormatScore(m.frame.Scores, i),
			m.instructionSummary(g),
		)
	}
	return table.View(m.styles)
}

// instructionSummary previews the genome's instruction texts, truncated to
// keep the table narrow. Truncation counts runes so multibyte fragment text
// is never split mid-character.
func (m Model) instructionSummary(g *genome.Genome) string {
	parts := make([]string, len(g.Fragments))
	for i, idx := range g.Fragments {
		parts[i] = m.frame.Pool.Instruction(idx)
	}
	summary := strings.Join(parts, " / ")
	if runes := []rune(summary); len(runes) > 48 {
		summary = string(runes[:45]) + "..."
	}
	return summary
}

func (m Model) phaseExplanation() string {
	if genome.Mode(m.currentMode()) == genome.ModeKropotkin {
		return "kropotkin: everyone survives; the best genome donates fragments to the commons and strugglers adopt them"
	}
	return "darwin: the population is ranked by fitness and only the top half survives to reproduce"
}
