package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"

	"github.com/wippyai/hotreload/engine"
	"github.com/wippyai/hotreload/loader"
	"github.com/wippyai/hotreload/reload"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	reloadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// eventLog keeps the last lines written to it. It is the log sink and guest
// stdout/stderr while the TUI owns the terminal.
type eventLog struct {
	lines   []string
	partial []byte
	limit   int
	mu      sync.Mutex
}

func newEventLog(limit int) *eventLog {
	return &eventLog{limit: limit}
}

func (l *eventLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.lines = append(l.lines, string(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}
	if over := len(l.lines) - l.limit; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
	return len(p), nil
}

func (l *eventLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type interactiveModel struct {
	ctx      context.Context
	err      error
	ctrl     *reload.Controller
	engine   *engine.Engine
	events   *eventLog
	counts   map[reload.Action]int
	path     string
	last     reload.Event
	progress progress.Model
	tick     time.Duration
	started  bool
	done     bool
}

type tickMsg time.Time

func newInteractiveModel(ctx context.Context, ld *loader.Loader, opts reload.Options, eng *engine.Engine, events *eventLog) *interactiveModel {
	m := &interactiveModel{
		ctx:      ctx,
		engine:   eng,
		events:   events,
		counts:   make(map[reload.Action]int),
		path:     ld.Path(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		tick:     opts.Tick,
	}
	next := opts.Observer
	opts.Observer = func(ev reload.Event) {
		m.last = ev
		m.counts[ev.Action]++
		if next != nil {
			next(ev)
		}
	}
	m.ctrl = reload.New(ld, opts)
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.next()
}

func (m *interactiveModel) next() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update is the only place the controller is driven from, so Step calls stay
// strictly sequential.
func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		if !m.started {
			if err := m.ctrl.Start(m.ctx); err != nil {
				m.err = err
				m.done = true
				return m, tea.Quit
			}
			m.started = true
			return m, m.next()
		}

		cont, err := m.ctrl.Step(m.ctx)
		if err != nil {
			m.err = err
		}
		if err != nil || !cont {
			m.done = true
			return m, tea.Quit
		}
		return m, m.next()
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Hot Reload"))
	b.WriteString(" ")
	b.WriteString(m.path)
	b.WriteString("\n\n")

	if !m.started {
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
			return b.String()
		}
		b.WriteString("Loading generation 0...\n")
		return b.String()
	}

	field := func(label string, value any) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(valueStyle.Render(fmt.Sprint(value)))
		b.WriteString("\n")
	}

	if h := m.ctrl.Current(); h != nil {
		field("Generation", h.Generation)
	}
	field("Iterations", m.ctrl.Iterations())
	field("Soft reloads", m.counts[reload.ActionSoftReload])
	field("Hard restarts", m.counts[reload.ActionHardRestart])
	field("Skipped", m.counts[reload.ActionSkipped])

	a := m.engine.Arena()
	used := float64(a.Offset()) / float64(a.Cap())
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", "Arena")))
	b.WriteString(m.progress.ViewAs(used))
	b.WriteString(" ")
	b.WriteString(units.BytesSize(float64(a.Offset())))
	b.WriteString(" / ")
	b.WriteString(units.BytesSize(float64(a.Cap())))
	b.WriteString("\n\n")

	switch m.last.Action {
	case reload.ActionSoftReload, reload.ActionHardRestart:
		b.WriteString(reloadStyle.Render(fmt.Sprintf("Last: %s to generation %d at iteration %d",
			m.last.Action, m.last.Generation, m.last.Iteration)))
		b.WriteString("\n")
	case reload.ActionSkipped:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Last: attempt %d skipped: %v", m.last.Attempt, m.last.Err)))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	if lines := m.events.Lines(); len(lines) > 0 {
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(helpStyle.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

func runInteractive(ctx context.Context, ld *loader.Loader, opts reload.Options, eng *engine.Engine, events *eventLog) error {
	m := newInteractiveModel(ctx, ld, opts, eng, events)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	stopErr := m.ctrl.Stop(context.WithoutCancel(ctx))
	if m.err != nil {
		return m.err
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return stopErr
}
