package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
)

const refreshInterval = 5 * time.Second

// DashboardModel shows one row per cycler channel
type DashboardModel struct {
	ctx   context.Context
	store Store

	width  int
	height int

	slots    db.Occupancy
	selected int // index in slots
	loaded   bool

	status string // one-line feedback under the table
	err    error

	// Stop confirmation modal
	confirmStop   bool
	confirmChoice bool

	// Set when the user asked to log a cycle; the program quits and the caller opens the form
	logCellID string

	shimmer *ShimmerState

	// Optional push refresh, e.g. from a DBWatcher
	changes <-chan struct{}
}

type occupancyMsg struct {
	slots db.Occupancy
	err   error
}

type stoppedMsg struct {
	cell *models.Cell
	err  error
}

type refreshTickMsg struct{}

type dbChangedMsg struct{}

// shimmerTickMsg is sent when shimmer should update
type shimmerTickMsg struct{}

// NewDashboardModel creates the dashboard; the first Init loads occupancy
func NewDashboardModel(ctx context.Context, store Store) DashboardModel {
	return DashboardModel{
		ctx:     ctx,
		store:   store,
		shimmer: NewShimmerState(DefaultShimmerConfig()),
	}
}

func (m DashboardModel) loadOccupancy() tea.Cmd {
	return func() tea.Msg {
		slots, err := m.store.ListOccupancy(m.ctx)
		return occupancyMsg{slots: slots, err: err}
	}
}

func (m DashboardModel) stopCell(cellID string) tea.Cmd {
	return func() tea.Msg {
		cell, err := m.store.StopCell(m.ctx, cellID)
		return stoppedMsg{cell: cell, err: err}
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m DashboardModel) shimmerTick() tea.Cmd {
	if !m.shimmer.ShouldTick() {
		return nil
	}
	return tea.Tick(m.shimmer.TickInterval(), func(time.Time) tea.Msg {
		return shimmerTickMsg{}
	})
}

// waitForChange blocks until the next change signal. A closed channel ends the wait for good.
func (m DashboardModel) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes := m.changes
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return dbChangedMsg{}
	}
}

// Init initializes the model
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.loadOccupancy(), refreshTick(), m.shimmerTick(), m.waitForChange())
}

// Update handles messages
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case occupancyMsg:
		m.err = msg.err
		if msg.err == nil {
			m.slots = msg.slots
			m.loaded = true
			if m.selected >= len(m.slots) {
				m.selected = max(len(m.slots)-1, 0)
			}
		}
		return m, nil

	case stoppedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("⏹️  Stopped %s, channel %s is free", msg.cell.CellID, msg.cell.ChannelLabel())
		return m, m.loadOccupancy()

	case refreshTickMsg:
		return m, tea.Batch(m.loadOccupancy(), refreshTick())

	case dbChangedMsg:
		return m, tea.Batch(m.loadOccupancy(), m.waitForChange())

	case shimmerTickMsg:
		if sel := m.selectedCell(); sel != nil {
			m.shimmer.Advance(len([]rune(sel.CellID)), time.Now())
		}
		return m, m.shimmerTick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.confirmStop {
			return m.handleConfirmKeys(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.shimmer.Reset()
			}
			return m, nil

		case "down", "j":
			if m.selected < len(m.slots)-1 {
				m.selected++
				m.shimmer.Reset()
			}
			return m, nil

		case "r":
			m.status = ""
			return m, m.loadOccupancy()

		case "s":
			if m.selectedCell() == nil {
				m.status = "Channel is free, nothing to stop"
				return m, nil
			}
			m.confirmStop = true
			m.confirmChoice = false // default to "No"
			return m, nil

		case "l", "enter":
			cell := m.selectedCell()
			if cell == nil {
				m.status = "Channel is free. Start a cell with 'celltrack start <cell-id> --channel N'"
				return m, nil
			}
			m.logCellID = cell.CellID
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m DashboardModel) handleConfirmKeys(msg tea.KeyMsg) (DashboardModel, tea.Cmd) {
	switch msg.String() {
	case "left", "right", "tab":
		m.confirmChoice = !m.confirmChoice
		return m, nil
	case "y", "Y":
		m.confirmChoice = true
	case "n", "N", "esc":
		m.confirmStop = false
		return m, nil
	case "enter":
	case "ctrl+c":
		return m, tea.Quit
	default:
		return m, nil
	}

	m.confirmStop = false
	if !m.confirmChoice {
		return m, nil
	}
	cell := m.selectedCell()
	if cell == nil {
		return m, nil
	}
	return m, m.stopCell(cell.CellID)
}

// selectedCell returns the running cell on the selected channel, nil when free
func (m DashboardModel) selectedCell() *models.Cell {
	if m.selected < 0 || m.selected >= len(m.slots) {
		return nil
	}
	return m.slots[m.selected].Cell
}

// View renders the TUI
func (m DashboardModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	leftWidth := m.width * 55 / 100
	rightWidth := m.width - leftWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderChannelTable(leftWidth),
		" ",
		m.renderCellDetails(rightWidth),
	)

	view := lipgloss.JoinVertical(
		lipgloss.Left,
		"",
		content,
		m.renderStatusLine(),
		m.renderHelpBar(),
	)

	if m.confirmStop {
		return m.renderStopModal()
	}
	return view
}

func (m DashboardModel) renderChannelTable(width int) string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccentBright))

	title := "🔋 Channels"
	if m.loaded {
		title = fmt.Sprintf("🔋 Channels · %d/%d running", m.slots.Running(), len(m.slots))
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	if !m.loaded {
		emptyStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSecondaryText)).
			Italic(true)
		b.WriteString(emptyStyle.Render("Loading channels..."))
		return lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Width(width).
			Render(b.String())
	}

	chWidth := 4
	statusWidth := 9
	runWidth := 8
	idWidth := width - chWidth - statusWidth - runWidth - 10
	if idWidth < 12 {
		idWidth = 12
	}

	columnHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccentBright)).
		Padding(0, 1)
	b.WriteString(columnHeaderStyle.Render(fmt.Sprintf("%-*s %-*s %-*s %-*s",
		chWidth, "CH",
		idWidth, "CELL",
		statusWidth, "STATUS",
		runWidth, "RUNNING")))
	b.WriteString("\n\n")

	now := time.Now()
	for i, slot := range m.slots {
		isSelected := i == m.selected

		id := "—"
		statusText := "○ free"
		runText := ""
		if !slot.Free() {
			id = slot.Cell.CellID
			statusText = "● running"
			runText = formatRunning(now.Sub(slot.Cell.CreatedAt))
		}
		if len([]rune(id)) > idWidth-1 {
			id = string([]rune(id)[:idWidth-4]) + "..."
		}
		// pad before colouring so ANSI codes do not break alignment
		paddedID := fmt.Sprintf("%-*s", idWidth, id)
		if isSelected && !slot.Free() {
			paddedID = m.shimmer.Render(id) + strings.Repeat(" ", idWidth-len([]rune(id)))
		}

		statusColor := ColorDisabledText
		if !slot.Free() {
			statusColor = ColorSuccess
		}
		coloredStatus := lipgloss.NewStyle().
			Foreground(lipgloss.Color(statusColor)).
			Render(fmt.Sprintf("%-*s", statusWidth, statusText))

		row := fmt.Sprintf("%-*d %s %s %-*s", chWidth, slot.Channel, paddedID, coloredStatus, runWidth, runText)

		if isSelected {
			selectedStyle := lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color(ColorAccentMain)).
				Bold(true).
				Padding(0, 1)
			b.WriteString(selectedStyle.Render(row))
		} else {
			b.WriteString(" " + row)
		}
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Width(width).
		Render(b.String())
}

func (m DashboardModel) renderCellDetails(width int) string {
	var b strings.Builder
	label := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))
	value := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPrimaryText))

	cell := m.selectedCell()
	if cell == nil {
		logoStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorAccentMain)).
			Bold(true).
			Align(lipgloss.Center).
			Width(width)
		b.WriteString(logoStyle.Render("celltrack"))
		b.WriteString("\n")

		msg := "Select a running channel to view its cell"
		if m.loaded && m.selected < len(m.slots) {
			msg = fmt.Sprintf("Channel %d is free", m.slots[m.selected].Channel)
		}
		b.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSecondaryText)).
			Italic(true).
			Align(lipgloss.Center).
			Width(width).
			MarginTop(2).
			Render(msg))
	} else {
		titleStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimaryText))
		b.WriteString(titleStyle.Render("🔋 " + cell.CellID))
		b.WriteString("\n\n")

		rows := []struct{ k, v string }{
			{"Channel", cell.ChannelLabel()},
			{"Chemistry", cell.Chemistry},
			{"Started", cell.CreatedAt.Format("02/01/2006 15:04")},
			{"Running for", formatRunning(time.Since(cell.CreatedAt))},
		}
		if cell.RatedCapacity > 0 {
			rows = append(rows, struct{ k, v string }{"Rated", fmt.Sprintf("%.0f mAh", cell.RatedCapacity)})
		}
		if cell.Configuration != "" {
			rows = append(rows, struct{ k, v string }{"Configuration", cell.Configuration})
		}
		if cell.AssemblyDate != nil {
			rows = append(rows, struct{ k, v string }{"Assembled", parser.FormatDate(cell.AssemblyDate)})
		}
		if cell.ZnBrMolarity > 0 || cell.TEAClMolarity > 0 {
			rows = append(rows, struct{ k, v string }{"Electrolyte",
				fmt.Sprintf("%.2f M ZnBr₂ / %.2f M TEACl", cell.ZnBrMolarity, cell.TEAClMolarity)})
		}
		for _, r := range rows {
			b.WriteString(label.Render(r.k + ": "))
			b.WriteString(value.Render(r.v))
			b.WriteString("\n")
		}

		if cell.Notes != "" {
			b.WriteString("\n" + label.Render("Notes:") + "\n")
			b.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorSecondaryText)).
				Italic(true).
				Width(width - 2).
				Render(cell.Notes))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Width(width).
		Render(b.String())
}

func (m DashboardModel) renderStatusLine() string {
	if m.err != nil {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)).
			Bold(true).
			Render("❌ " + m.err.Error())
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorSuccess)).
		Render(m.status)
}

// renderHelpBar renders the help bar with hotkey hints
func (m DashboardModel) renderHelpBar() string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorHelpText)).
		Italic(true).
		Align(lipgloss.Center).
		Width(m.width).
		Render("↑/↓ nav · l/enter log cycle · s stop · r refresh · q/esc quit")
}

func (m DashboardModel) renderStopModal() string {
	cell := m.selectedCell()
	name := ""
	if cell != nil {
		name = fmt.Sprintf("%s on channel %s", cell.CellID, cell.ChannelLabel())
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("Stop %s?\n\n", name))

	yesStyle := lipgloss.NewStyle().Padding(0, 2)
	noStyle := lipgloss.NewStyle().Padding(0, 2)
	if m.confirmChoice {
		yesStyle = yesStyle.
			Background(lipgloss.Color(ColorError)).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)
	} else {
		noStyle = noStyle.
			Background(lipgloss.Color(ColorAccentBright)).
			Foreground(lipgloss.Color("#000000")).
			Bold(true)
	}
	content.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, yesStyle.Render("Yes"), "   ", noStyle.Render("No")))
	content.WriteString("\n\n← → or Y/N to choose, Enter to confirm")

	modal := lipgloss.NewStyle().
		Width(50).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorError)).
		Background(lipgloss.Color(ColorCardBackground)).
		Padding(1).
		Align(lipgloss.Center).
		Render(content.String())

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}
