package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	slots   db.Occupancy
	stopped []string
	logged  []db.Measurements
	next    int
	logErr  error
}

func (f *fakeStore) Channels() int { return len(f.slots) }

func (f *fakeStore) ListOccupancy(context.Context) (db.Occupancy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots := make(db.Occupancy, len(f.slots))
	copy(slots, f.slots)
	return slots, nil
}

func (f *fakeStore) StopCell(_ context.Context, cellID string) (*models.Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, cellID)
	for i, s := range f.slots {
		if s.Cell != nil && s.Cell.CellID == cellID {
			cell := *s.Cell
			cell.Status = models.StatusStopped
			f.slots[i].Cell = nil
			return &cell, nil
		}
	}
	return nil, &db.Error{Kind: db.KindNotFound, CellID: cellID}
}

func (f *fakeStore) NextCycleNumber(context.Context, string) (int, error) {
	return f.next, nil
}

func (f *fakeStore) LogCycle(_ context.Context, cellID string, m db.Measurements) (*models.Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return nil, f.logErr
	}
	f.logged = append(f.logged, m)
	ce, _ := models.CoulombicEfficiency(m.ChargeCapacity, m.DischargeCapacity)
	return &models.Cycle{CellID: cellID, CycleNo: f.next, CEPct: ce}, nil
}

func newFakeStore() *fakeStore {
	ch := 2
	return &fakeStore{
		slots: db.Occupancy{
			{Channel: 1},
			{Channel: 2, Cell: &models.Cell{CellID: "ZB-042", Channel: &ch, Status: models.StatusRunning, CreatedAt: time.Now().Add(-3 * time.Hour)}},
			{Channel: 3},
		},
		next: 4,
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func loadedDashboard(t *testing.T, store *fakeStore) DashboardModel {
	t.Helper()
	m := NewDashboardModel(context.Background(), store)
	slots, err := store.ListOccupancy(context.Background())
	require.NoError(t, err)
	updated, _ := m.Update(occupancyMsg{slots: slots})
	updated, _ = updated.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(DashboardModel)
}

func dashPress(m DashboardModel, k string) (DashboardModel, tea.Cmd) {
	updated, cmd := m.Update(key(k))
	return updated.(DashboardModel), cmd
}

func TestDashboardStopSelectedCell(t *testing.T) {
	store := newFakeStore()
	m := loadedDashboard(t, store)

	m, _ = dashPress(m, "down")
	require.NotNil(t, m.selectedCell())
	assert.Equal(t, "ZB-042", m.selectedCell().CellID)

	m, cmd := dashPress(m, "s")
	assert.True(t, m.confirmStop)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "Stop ZB-042 on channel 2?")

	m, cmd = dashPress(m, "y")
	assert.False(t, m.confirmStop)
	require.NotNil(t, cmd)

	msg := cmd()
	stopped, ok := msg.(stoppedMsg)
	require.True(t, ok)
	require.NoError(t, stopped.err)
	assert.Equal(t, []string{"ZB-042"}, store.stopped)

	updated, reload := m.Update(msg)
	m = updated.(DashboardModel)
	assert.Contains(t, m.status, "Stopped ZB-042")
	require.NotNil(t, reload)

	updated, _ = m.Update(reload())
	m = updated.(DashboardModel)
	assert.Nil(t, m.selectedCell(), "channel 2 is free after stop")
}

func TestDashboardStopCancelled(t *testing.T) {
	store := newFakeStore()
	m := loadedDashboard(t, store)
	m, _ = dashPress(m, "down")

	m, _ = dashPress(m, "s")
	m, cmd := dashPress(m, "n")
	assert.False(t, m.confirmStop)
	assert.Nil(t, cmd)

	// enter confirms the default choice, which is "No"
	m, _ = dashPress(m, "s")
	_, cmd = dashPress(m, "enter")
	assert.Nil(t, cmd)
	assert.Empty(t, store.stopped)
}

func TestDashboardFreeChannel(t *testing.T) {
	store := newFakeStore()
	m := loadedDashboard(t, store)

	m, cmd := dashPress(m, "s")
	assert.False(t, m.confirmStop)
	assert.Nil(t, cmd)
	assert.Contains(t, m.status, "free")

	m, cmd = dashPress(m, "l")
	assert.Empty(t, m.logCellID)
	assert.Nil(t, cmd)
}

func TestDashboardLogJumpsToForm(t *testing.T) {
	m := loadedDashboard(t, newFakeStore())
	m, _ = dashPress(m, "down")

	m, cmd := dashPress(m, "l")
	assert.Equal(t, "ZB-042", m.logCellID)
	assert.True(t, isQuit(cmd))
}

func TestDashboardSelectionBounds(t *testing.T) {
	m := loadedDashboard(t, newFakeStore())

	m, _ = dashPress(m, "up")
	assert.Equal(t, 0, m.selected)
	for i := 0; i < 5; i++ {
		m, _ = dashPress(m, "down")
	}
	assert.Equal(t, 2, m.selected)

	view := m.View()
	assert.Contains(t, view, "1/3 running")
	assert.Contains(t, view, "Channel 3 is free")
}

func logPress(m LogCycleModel, k string) (LogCycleModel, tea.Cmd) {
	updated, cmd := m.Update(key(k))
	return updated.(LogCycleModel), cmd
}

func newLogForm(store *fakeStore, opts LogFormOptions) LogCycleModel {
	m := NewLogCycleModel(context.Background(), store, "ZB-042", opts)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated, _ = updated.Update(m.loadNextCycle()())
	return updated.(LogCycleModel)
}

func TestLogFormRequiresReadings(t *testing.T) {
	m := newLogForm(newFakeStore(), LogFormOptions{})
	assert.Equal(t, 4, m.nextCycle)

	m, _ = logPress(m, "enter")
	assert.Equal(t, StepChargeCapacity, m.currentStep)
	assert.Equal(t, "Value is required", m.validationErr)

	for _, r := range "abc" {
		m, _ = logPress(m, string(r))
	}
	m, _ = logPress(m, "enter")
	assert.Equal(t, "Enter a number", m.validationErr)
}

func TestLogFormSavesCycle(t *testing.T) {
	store := newFakeStore()
	m := newLogForm(store, LogFormOptions{
		Prefilled: map[string]string{"observation": "even plating"},
		PhotoKey:  "cells/ZB-042/p.jpg",
	})

	for _, v := range []string{"2.0", "1.8", "1.8", "1.2", "20"} {
		for _, r := range v {
			m, _ = logPress(m, string(r))
		}
		m, _ = logPress(m, "enter")
		require.Empty(t, m.validationErr)
	}
	assert.Equal(t, StepPH, m.currentStep)

	ce, dv := m.preview()
	assert.Equal(t, "90.00 %", ce)
	assert.Equal(t, "0.600 V", dv)

	m, _ = logPress(m, "enter") // skip pH
	m, _ = logPress(m, "enter") // keep prefilled observation
	require.Equal(t, StepSave, m.currentStep)

	m, cmd := logPress(m, "enter")
	require.NotNil(t, cmd)
	assert.True(t, m.saving)

	updated, quit := m.Update(cmd())
	m = updated.(LogCycleModel)
	assert.True(t, isQuit(quit))
	require.NotNil(t, m.logged)
	assert.Equal(t, 4, m.logged.CycleNo)

	require.Len(t, store.logged, 1)
	got := store.logged[0]
	assert.Equal(t, 2.0, got.ChargeCapacity)
	assert.Equal(t, 1.2, got.DischargeVoltage)
	assert.Equal(t, 20.0, got.CurrentDensity)
	assert.Nil(t, got.PH)
	assert.Equal(t, "even plating", got.Observation)
	assert.Equal(t, "cells/ZB-042/p.jpg", got.PhotoKey)
}

func TestLogFormStoreErrorKeepsForm(t *testing.T) {
	store := newFakeStore()
	store.logErr = &db.Error{Kind: db.KindNotRunning, CellID: "ZB-042"}

	m := newLogForm(store, LogFormOptions{Prefilled: map[string]string{
		"qc": "2", "qd": "1.8", "vc": "1.8", "vd": "1.2", "j": "20",
	}})
	m.currentStep = StepSave

	m, cmd := logPress(m, "enter")
	require.NotNil(t, cmd)
	updated, quit := m.Update(cmd())
	m = updated.(LogCycleModel)

	assert.Nil(t, quit)
	assert.Nil(t, m.logged)
	assert.True(t, errors.Is(m.err, db.ErrNotRunning))
	assert.Contains(t, m.View(), "is not running")
}

func TestLogFormSaveJumpsToInvalidField(t *testing.T) {
	m := newLogForm(newFakeStore(), LogFormOptions{Prefilled: map[string]string{
		"qc": "2", "qd": "1.8", "vc": "1.8", "vd": "1.2", "j": "20", "ph": "15",
	}})
	m.currentStep = StepSave

	m, _ = logPress(m, "enter")
	assert.Equal(t, StepPH, m.currentStep)
	assert.Equal(t, "pH must be between 0 and 14", m.validationErr)
}

func TestLogFormPreviewZeroCharge(t *testing.T) {
	m := newLogForm(newFakeStore(), LogFormOptions{Prefilled: map[string]string{"qc": "0", "qd": "1.8"}})
	ce, dv := m.preview()
	assert.Equal(t, "undefined (QC = 0)", ce)
	assert.Equal(t, "—", dv)
}

func TestLogFormEscape(t *testing.T) {
	m := newLogForm(newFakeStore(), LogFormOptions{})
	m, cmd := logPress(m, "esc")
	assert.True(t, m.cancelled)
	assert.True(t, isQuit(cmd))

	m = newLogForm(newFakeStore(), LogFormOptions{Prefilled: map[string]string{"qc": "2"}})
	m, cmd = logPress(m, "esc")
	assert.True(t, m.showQuitModal)
	assert.Nil(t, cmd)

	m, _ = logPress(m, "n")
	assert.False(t, m.showQuitModal)
	assert.False(t, m.cancelled)

	m, _ = logPress(m, "esc")
	m, cmd = logPress(m, "y")
	assert.True(t, m.cancelled)
	assert.True(t, isQuit(cmd))
}

func TestFormatRunning(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "<1m"},
		{12 * time.Minute, "12m"},
		{5*time.Hour + 12*time.Minute, "5h 12m"},
		{76 * time.Hour, "3d 4h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatRunning(tt.d))
	}
}

func TestShimmer(t *testing.T) {
	cfg := DefaultShimmerConfig()
	cfg.ReduceMotion = true
	static := NewShimmerState(cfg)
	assert.False(t, static.ShouldTick())
	assert.Zero(t, static.TickInterval())
	assert.Contains(t, static.Render("ZB-042"), "ZB-042")

	cfg.ReduceMotion = false
	s := NewShimmerState(cfg)
	require.True(t, s.ShouldTick())

	now := time.Now()
	for i := 0; i < 100; i++ {
		s.Advance(6, now)
	}
	assert.True(t, s.paused)
	assert.InDelta(t, 6*(1+cfg.WidthRatio), s.Center, 1e-9)

	s.Reset()
	assert.Zero(t, s.Center)
	assert.Empty(t, s.Render(""))
}
