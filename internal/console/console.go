// Package console renders the updater status on a terminal and turns key
// presses into coordinator intents.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eon-neos/neosupdater/pkg/coordinator"
	"github.com/eon-neos/neosupdater/pkg/status"
)

// RefreshInterval is how often the view re-reads the status.
const RefreshInterval = 100 * time.Millisecond

// Coordinator is the subset of the coordinator the console drives.
type Coordinator interface {
	Snapshot() status.UpdateStatus
	Submit(intent coordinator.Intent)
	Done() <-chan struct{}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	bodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	frameStyle = lipgloss.NewStyle().Padding(1, 2)
)

type tickMsg time.Time

// Model is the bubbletea model for the updater screen.
type Model struct {
	coord    Coordinator
	snapshot status.UpdateStatus
	bar      progress.Model
	width    int
	quitting bool
}

// NewModel creates a model polling coord.
func NewModel(coord Coordinator) Model {
	return Model{
		coord:    coord,
		snapshot: coord.Snapshot(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-8, 10)
		return m, nil

	case tickMsg:
		m.snapshot = m.coord.Snapshot()
		select {
		case <-m.coord.Done():
			m.quitting = true
			return m, tea.Quit
		default:
		}
		return m, tick()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			// Quitting is only allowed while no update work is in progress.
			switch m.coord.Snapshot().State {
			case status.StateConfirmation, status.StateError:
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}
		if intent, ok := intentForKey(msg); ok {
			m.coord.Submit(intent)
			m.snapshot = m.coord.Snapshot()
		}
		return m, nil
	}
	return m, nil
}

// intentForKey maps keys to intents: enter confirms, w opens the alternate
// action (Wi-Fi settings), r and q dismiss.
func intentForKey(msg tea.KeyMsg) (coordinator.Intent, bool) {
	switch msg.String() {
	case "enter", " ":
		return coordinator.IntentConfirm, true
	case "w":
		return coordinator.IntentAltAction, true
	case "r", "q", "esc":
		return coordinator.IntentDismiss, true
	}
	return 0, false
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return frameStyle.Render(render(m.snapshot, m.bar))
}

func render(s status.UpdateStatus, bar progress.Model) string {
	var b strings.Builder
	switch s.State {
	case status.StateConfirmation:
		b.WriteString(titleStyle.Render("An update to NEOS is required."))
		b.WriteString("\n\n")
		b.WriteString(bodyStyle.Render("Your device will now be reset and upgraded. You may want to connect to wifi as download is around 1 GB. Existing data on device should not be lost."))
		b.WriteString("\n\n")
		b.WriteString(hintStyle.Render("[enter] continue   [w] connect to wifi"))

	case status.StateLowBattery:
		b.WriteString(titleStyle.Render("Low Battery"))
		b.WriteString("\n\n")
		b.WriteString(bodyStyle.Render("Please connect EON to your charger. Update will continue once EON battery reaches 35%."))
		b.WriteString("\n\n")
		b.WriteString(bodyStyle.Render(fmt.Sprintf("Current battery: %s%%", s.BatteryPercentText)))

	case status.StateRunning:
		b.WriteString(titleStyle.Render(s.ProgressText))
		b.WriteString("\n\n")
		b.WriteString(bar.ViewAs(s.ProgressFraction))

	case status.StateError:
		b.WriteString(errorStyle.Render("There was an error"))
		b.WriteString("\n\n")
		b.WriteString(bodyStyle.Render(s.ErrorText))
		b.WriteString("\n\n")
		b.WriteString(hintStyle.Render("[r] reboot"))
	}
	return b.String()
}

// Run blocks until the coordinator signals Done or the program is
// interrupted.
func Run(coord Coordinator, opts ...tea.ProgramOption) error {
	_, err := tea.NewProgram(NewModel(coord), opts...).Run()
	return err
}
