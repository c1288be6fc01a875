package cli

import (
	"context"
	"fmt"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/renderfleet/comfyrelay/internal/runner"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// progressMsg carries one push progress event from the monitor.
type progressMsg struct {
	value int
	max   int
}

// jobDoneMsg carries the terminal response.
type jobDoneMsg struct {
	resp runner.Response
}

// runModel is the bubbletea model for live job progress.
type runModel struct {
	progress progress.Model
	theme    Theme
	value    int
	max      int
	resp     *runner.Response
	quitting bool
}

func newRunModel() runModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return runModel{
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m runModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case progressMsg:
		m.value = msg.value
		m.max = msg.max
		return m, nil

	case jobDoneMsg:
		m.resp = &msg.resp
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m runModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m runModel) renderContent() string {
	if m.resp != nil {
		return m.finalView()
	}

	if m.max == 0 {
		status := m.theme.statusStyle().Render("[waiting]")
		hint := m.theme.hintStyle().Render("Press Ctrl+C to abandon the wait")
		return fmt.Sprintf("%s submitting and waiting for execution...\n%s\n", status, hint)
	}

	pct := float64(m.value) / float64(m.max)
	status := m.theme.statusStyle().Render("[rendering]")
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d steps", m.value, m.max)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to abandon the wait")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

// finalView renders the completion line.
func (m runModel) finalView() string {
	if m.resp.Status == runner.StatusSuccess {
		return m.theme.completedStyle().Render("✓ Completed") + "\n"
	}
	return m.theme.errorStyle().Render(fmt.Sprintf("✗ Job %s", m.resp.Status)) + "\n"
}

// runWithProgress runs the job while showing a live progress UI fed by push
// events. Quitting the UI abandons the wait; the backend keeps rendering.
func runWithProgress(ctx context.Context, r *runner.Runner, req runner.Request) (runner.Response, error) {
	p := tea.NewProgram(newRunModel())

	r.OnProgress(func(value, max int) {
		p.Send(progressMsg{value: value, max: max})
	})
	go func() {
		p.Send(jobDoneMsg{resp: r.Run(ctx, req)})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return runner.Response{}, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(runModel)
	if !ok || m.resp == nil {
		return runner.Response{}, fmt.Errorf("wait abandoned, the backend keeps rendering the job")
	}
	return *m.resp, nil
}
