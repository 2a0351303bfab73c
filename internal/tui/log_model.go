package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
)

// Step represents the current step in the cycle form
type Step int

const (
	StepChargeCapacity Step = iota
	StepDischargeCapacity
	StepChargeVoltage
	StepDischargeVoltage
	StepCurrentDensity
	StepPH
	StepObservation
	StepSave
)

type formField struct {
	key         string // prefill key, also the smart-syntax name
	label       string
	placeholder string
	optional    bool
	numeric     bool
}

var formFields = []formField{
	{key: "qc", label: "⚡ Charge capacity (Ah)", placeholder: "e.g. 2.0 (required)", numeric: true},
	{key: "qd", label: "🔻 Discharge capacity (Ah)", placeholder: "e.g. 1.8 (required)", numeric: true},
	{key: "vc", label: "📈 Max charge voltage (V)", placeholder: "e.g. 1.80 (required)", numeric: true},
	{key: "vd", label: "📉 Min discharge voltage (V)", placeholder: "e.g. 1.20 (required)", numeric: true},
	{key: "j", label: "🔌 Current density (mA/cm²)", placeholder: "e.g. 20 (required)", numeric: true},
	{key: "ph", label: "🧪 Electrolyte pH", placeholder: "0-14 (Enter to skip)", optional: true, numeric: true},
	{key: "observation", label: "📝 Observation", placeholder: "Free text (Enter to skip)", optional: true},
}

// LogCycleModel is the step-by-step form for one cycle
type LogCycleModel struct {
	ctx    context.Context
	store  Store
	cellID string
	opts   LogFormOptions

	currentStep Step
	inputs      []textinput.Model
	width       int
	height      int

	nextCycle int // 0 until loaded

	// State
	err           error
	validationErr string
	saving        bool
	cancelled     bool
	logged        *models.Cycle

	// Discard confirmation modal
	showQuitModal bool
	quitChoice    bool // true for discard
}

type nextCycleMsg struct {
	n   int
	err error
}

type loggedMsg struct {
	cycle *models.Cycle
	err   error
}

// NewLogCycleModel creates the cycle form
func NewLogCycleModel(ctx context.Context, store Store, cellID string, opts LogFormOptions) LogCycleModel {
	inputs := make([]textinput.Model, len(formFields))
	for i, f := range formFields {
		inputs[i] = textinput.New()
		inputs[i].Width = 40
		inputs[i].Placeholder = f.placeholder
		inputs[i].CharLimit = 20
		if !f.numeric {
			inputs[i].CharLimit = 500
		}
		inputs[i].TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPrimaryText))
		inputs[i].PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPlaceholder))
		inputs[i].Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentBright))

		if v, ok := opts.Prefilled[f.key]; ok {
			inputs[i].SetValue(v)
		}
	}
	inputs[0].Focus()

	return LogCycleModel{
		ctx:    ctx,
		store:  store,
		cellID: cellID,
		opts:   opts,
		inputs: inputs,
	}
}

// Init initializes the model
func (m LogCycleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadNextCycle())
}

func (m LogCycleModel) loadNextCycle() tea.Cmd {
	return func() tea.Msg {
		n, err := m.store.NextCycleNumber(m.ctx, m.cellID)
		return nextCycleMsg{n: n, err: err}
	}
}

// Update handles messages
func (m LogCycleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case nextCycleMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.nextCycle = msg.n
		}
		return m, nil

	case loggedMsg:
		m.saving = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.logged = msg.cycle
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := min(max(m.width*2/3-10, 30), 60)
		for i := range m.inputs {
			m.inputs[i].Width = w
		}
		return m, nil

	case tea.KeyMsg:
		if m.showQuitModal {
			return m.handleQuitKeys(msg)
		}

		switch msg.String() {
		case "ctrl+c":
			m.cancelled = true
			return m, tea.Quit

		case "esc":
			if !m.hasInput() {
				m.cancelled = true
				return m, tea.Quit
			}
			m.showQuitModal = true
			m.quitChoice = false
			return m, nil

		case "enter":
			return m.handleEnter()

		case "tab", "down":
			if msg := m.validateStep(m.currentStep); msg != "" {
				m.validationErr = msg
				return m, nil
			}
			return m.nextStep()

		case "shift+tab", "up":
			return m.prevStep()
		}
	}

	var cmd tea.Cmd
	if m.currentStep < StepSave {
		m.inputs[m.currentStep], cmd = m.inputs[m.currentStep].Update(msg)
	}
	return m, cmd
}

func (m LogCycleModel) handleQuitKeys(msg tea.KeyMsg) (LogCycleModel, tea.Cmd) {
	switch msg.String() {
	case "left", "right":
		m.quitChoice = !m.quitChoice
		return m, nil
	case "y", "Y":
		m.cancelled = true
		return m, tea.Quit
	case "n", "N", "esc":
		m.showQuitModal = false
		return m, nil
	case "enter":
		if m.quitChoice {
			m.cancelled = true
			return m, tea.Quit
		}
		m.showQuitModal = false
		return m, nil
	case "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

// handleEnter processes the Enter key
func (m LogCycleModel) handleEnter() (LogCycleModel, tea.Cmd) {
	m.validationErr = ""
	if m.currentStep == StepSave {
		return m.save()
	}
	if msg := m.validateStep(m.currentStep); msg != "" {
		m.validationErr = msg
		return m, nil
	}
	return m.nextStep()
}

// validateStep returns a message when the field of step is not acceptable
func (m LogCycleModel) validateStep(step Step) string {
	if step >= StepSave {
		return ""
	}
	f := formFields[step]
	raw := strings.TrimSpace(m.inputs[step].Value())
	if raw == "" {
		if f.optional {
			return ""
		}
		return "Value is required"
	}
	if !f.numeric {
		return ""
	}
	v, err := parser.ParseNumber(raw)
	if err != nil {
		return "Enter a number"
	}
	if step == StepPH {
		if v > 14 {
			return "pH must be between 0 and 14"
		}
		return ""
	}
	if v <= 0 {
		return "Value must be positive"
	}
	return ""
}

// nextStep moves to the next step
func (m LogCycleModel) nextStep() (LogCycleModel, tea.Cmd) {
	m.validationErr = ""
	if m.currentStep < StepSave {
		m.inputs[m.currentStep].Blur()
		m.currentStep++
		if m.currentStep < StepSave {
			m.inputs[m.currentStep].Focus()
		}
	}
	return m, textinput.Blink
}

// prevStep moves to the previous step
func (m LogCycleModel) prevStep() (LogCycleModel, tea.Cmd) {
	m.validationErr = ""
	if m.currentStep > StepChargeCapacity {
		if m.currentStep < StepSave {
			m.inputs[m.currentStep].Blur()
		}
		m.currentStep--
		m.inputs[m.currentStep].Focus()
	}
	return m, textinput.Blink
}

func (m LogCycleModel) hasInput() bool {
	for i := range m.inputs {
		if strings.TrimSpace(m.inputs[i].Value()) != "" {
			return true
		}
	}
	return false
}

// value parses a numeric field, ok is false when empty or invalid
func (m LogCycleModel) value(step Step) (float64, bool) {
	v, err := parser.ParseNumber(m.inputs[step].Value())
	return v, err == nil
}

// measurements collects the form into store input, jumping back to the first bad field
func (m LogCycleModel) measurements() (db.Measurements, Step, string) {
	for s := StepChargeCapacity; s < StepSave; s++ {
		if msg := m.validateStep(s); msg != "" {
			return db.Measurements{}, s, msg
		}
	}
	qc, _ := m.value(StepChargeCapacity)
	qd, _ := m.value(StepDischargeCapacity)
	vc, _ := m.value(StepChargeVoltage)
	vd, _ := m.value(StepDischargeVoltage)
	j, _ := m.value(StepCurrentDensity)

	meas := db.Measurements{
		CurrentDensity:    j,
		ChargeCapacity:    qc,
		DischargeCapacity: qd,
		ChargeVoltage:     vc,
		DischargeVoltage:  vd,
		Observation:       strings.TrimSpace(m.inputs[StepObservation].Value()),
		AttachmentKey:     m.opts.AttachmentKey,
		PhotoKey:          m.opts.PhotoKey,
	}
	if ph, ok := m.value(StepPH); ok {
		meas.PH = &ph
	}
	return meas, StepSave, ""
}

func (m LogCycleModel) save() (LogCycleModel, tea.Cmd) {
	if m.saving {
		return m, nil
	}
	meas, bad, msg := m.measurements()
	if msg != "" {
		m.currentStep = bad
		m.inputs[bad].Focus()
		m.validationErr = msg
		return m, textinput.Blink
	}

	m.saving = true
	m.err = nil
	ctx, store, cellID := m.ctx, m.store, m.cellID
	return m, func() tea.Msg {
		cycle, err := store.LogCycle(ctx, cellID, meas)
		return loggedMsg{cycle: cycle, err: err}
	}
}

// preview computes CE% and ΔV from whatever has been typed so far
func (m LogCycleModel) preview() (ce, dv string) {
	ce, dv = "—", "—"
	qc, okC := m.value(StepChargeCapacity)
	qd, okD := m.value(StepDischargeCapacity)
	if okC && okD {
		if v, err := models.CoulombicEfficiency(qc, qd); err == nil {
			ce = fmt.Sprintf("%.2f %%", v)
		} else {
			ce = "undefined (QC = 0)"
		}
	}
	vc, okVC := m.value(StepChargeVoltage)
	vd, okVD := m.value(StepDischargeVoltage)
	if okVC && okVD {
		dv = fmt.Sprintf("%.3f V", models.VoltageDelta(vc, vd))
	}
	return ce, dv
}

// View renders the TUI
func (m LogCycleModel) View() string {
	if m.cancelled || m.logged != nil {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	rightWidth := 40
	leftWidth := m.width - rightWidth - 6
	if leftWidth < 30 {
		return m.renderForm()
	}

	left := lipgloss.NewStyle().
		Width(leftWidth).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Padding(1).
		Render(m.renderForm())
	right := lipgloss.NewStyle().
		Width(rightWidth).
		Padding(1).
		Render(m.renderPreview())

	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func (m LogCycleModel) renderForm() string {
	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccentBright))
	title := fmt.Sprintf("📈 Log cycle for %s", m.cellID)
	if m.nextCycle > 0 {
		title = fmt.Sprintf("📈 Log cycle #%d for %s", m.nextCycle, m.cellID)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	current := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentBright))
	done := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess))
	skipped := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDisabledText))
	future := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))

	for i, f := range formFields {
		step := Step(i)
		filled := strings.TrimSpace(m.inputs[i].Value()) != ""
		switch {
		case step == m.currentStep:
			b.WriteString(current.Render("▶ " + f.label))
		case filled:
			b.WriteString(done.Render("✓ " + f.label))
		case step < m.currentStep:
			b.WriteString(skipped.Render("  " + f.label))
		default:
			b.WriteString(future.Render("  " + f.label))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.currentStep == StepSave {
		b.WriteString(current.Render("▶ 💾 Save"))
	} else {
		b.WriteString(future.Render("  💾 Save"))
	}
	b.WriteString("\n\n")

	if m.currentStep < StepSave {
		b.WriteString(formFields[m.currentStep].label + "\n")
		b.WriteString(m.inputs[m.currentStep].View())
	} else if m.saving {
		b.WriteString("Saving...")
	} else {
		b.WriteString("Press Enter to save the cycle")
	}

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorError)).
		Bold(true).
		MarginTop(1)
	if m.validationErr != "" {
		b.WriteString("\n" + errorStyle.Render("❌ "+m.validationErr))
	} else if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("❌ "+m.err.Error()))
	}

	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorHelpText)).
		Italic(true).
		Render("Enter: Next | Tab/↓: Next | Shift+Tab/↑: Back | Esc: Cancel"))
	return b.String()
}

func (m LogCycleModel) renderPreview() string {
	var b strings.Builder
	label := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))
	val := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPrimaryText)).Bold(true)

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentMain)).Render("Preview"))
	b.WriteString("\n\n")

	cycle := "…"
	if m.nextCycle > 0 {
		cycle = fmt.Sprintf("#%d", m.nextCycle)
	}
	b.WriteString(label.Render("Cycle: ") + val.Render(cycle) + "\n")

	for i, f := range formFields[:StepObservation] {
		raw := strings.TrimSpace(m.inputs[i].Value())
		if raw == "" {
			raw = "—"
		}
		b.WriteString(label.Render(f.key+": ") + val.Render(raw) + "\n")
	}

	ce, dv := m.preview()
	b.WriteString("\n")
	b.WriteString(label.Render("CE%: ") + val.Render(ce) + "\n")
	b.WriteString(label.Render("ΔV:  ") + val.Render(dv) + "\n")

	if obs := strings.TrimSpace(m.inputs[StepObservation].Value()); obs != "" {
		b.WriteString("\n" + label.Render("Observation:") + "\n")
		b.WriteString(lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(ColorSecondaryText)).Width(36).Render(obs))
	}
	if m.opts.AttachmentKey != "" || m.opts.PhotoKey != "" {
		b.WriteString("\n\n" + label.Render("📎 attachments ready"))
	}
	b.WriteString("\n\n" + label.Render(time.Now().Format("02/01/2006 15:04")))
	return b.String()
}

func (m LogCycleModel) renderQuitModal() string {
	var content strings.Builder
	content.WriteString("Discard this cycle?\n\n")

	yesStyle := lipgloss.NewStyle().Padding(0, 2)
	noStyle := lipgloss.NewStyle().Padding(0, 2)
	if m.quitChoice {
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
	content.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, yesStyle.Render("Discard"), "   ", noStyle.Render("Keep editing")))
	content.WriteString("\n\n← → or Y/N to choose, Enter to confirm")

	modal := lipgloss.NewStyle().
		Width(50).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentBright)).
		Background(lipgloss.Color(ColorCardBackground)).
		Padding(1).
		Align(lipgloss.Center).
		Render(content.String())

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}
