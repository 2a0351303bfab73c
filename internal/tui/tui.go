package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
)

// Store is the part of the core the dashboard and the log form use
type Store interface {
	Channels() int
	ListOccupancy(ctx context.Context) (db.Occupancy, error)
	StopCell(ctx context.Context, cellID string) (*models.Cell, error)
	NextCycleNumber(ctx context.Context, cellID string) (int, error)
	LogCycle(ctx context.Context, cellID string, m db.Measurements) (*models.Cycle, error)
}

// RunDashboard shows the channel dashboard. Choosing "log" on a cell opens the
// cycle form and returns to the dashboard afterwards. changes may be nil; each
// value received triggers an immediate refresh.
func RunDashboard(ctx context.Context, store Store, changes <-chan struct{}) error {
	model := NewDashboardModel(ctx, store)
	model.changes = changes
	for {
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		finalModel, err := p.Run()
		if err != nil {
			return err
		}

		m, ok := finalModel.(DashboardModel)
		if !ok || m.logCellID == "" {
			return nil
		}

		cycle, err := RunLogCycleTUI(ctx, store, m.logCellID, LogFormOptions{})
		if err != nil {
			return err
		}

		next := NewDashboardModel(ctx, store)
		next.changes = changes
		next.selected = m.selected
		if cycle != nil {
			next.status = fmt.Sprintf("✅ Logged cycle #%d for %s (CE %.1f%%)", cycle.CycleNo, cycle.CellID, cycle.CEPct)
		}
		model = next
	}
}

// LogFormOptions carries values decided before the form opens
type LogFormOptions struct {
	Prefilled     map[string]string // keys: qc qd vc vd j ph observation
	AttachmentKey string
	PhotoKey      string
}

// RunLogCycleTUI opens the cycle form for one cell. A nil cycle means the user cancelled.
func RunLogCycleTUI(ctx context.Context, store Store, cellID string, opts LogFormOptions) (*models.Cycle, error) {
	model := NewLogCycleModel(ctx, store, cellID, opts)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	m, ok := finalModel.(LogCycleModel)
	if !ok || m.cancelled {
		return nil, nil
	}
	return m.logged, nil
}

// formatRunning renders how long a cell has been on its channel
func formatRunning(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := int(d / (24 * time.Hour))
		return fmt.Sprintf("%dd %dh", days, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return "<1m"
	}
}
