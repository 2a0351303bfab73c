package tui

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// ShimmerConfig holds configuration for the highlight sweep on the selected cell
type ShimmerConfig struct {
	Enabled        bool
	ReduceMotion   bool // static highlight instead of the sweep
	SpeedMs        int  // tick interval
	WidthRatio     float64
	CycleMs        int
	PauseBetweenMs int
}

// ShimmerState is the animation position of one highlighted label
type ShimmerState struct {
	Config    ShimmerConfig
	Center    float64
	Active    bool
	TrueColor bool

	paused     bool
	pauseStart time.Time
}

// DefaultShimmerConfig returns default shimmer configuration.
// CELLTRACK_REDUCE_MOTION turns the sweep into a static highlight.
func DefaultShimmerConfig() ShimmerConfig {
	return ShimmerConfig{
		Enabled:        true,
		ReduceMotion:   os.Getenv("CELLTRACK_REDUCE_MOTION") != "",
		SpeedMs:        100,
		WidthRatio:     0.3,
		CycleMs:        1600,
		PauseBetweenMs: 700,
	}
}

// NewShimmerState creates a new shimmer state
func NewShimmerState(config ShimmerConfig) *ShimmerState {
	return &ShimmerState{
		Config:    config,
		Active:    config.Enabled && !config.ReduceMotion,
		TrueColor: os.Getenv("COLORTERM") == "truecolor",
	}
}

// Advance moves the sweep one tick along a label of n runes
func (s *ShimmerState) Advance(n int, now time.Time) {
	if !s.Active || n <= 0 {
		return
	}
	if s.paused {
		if now.Sub(s.pauseStart) >= time.Duration(s.Config.PauseBetweenMs)*time.Millisecond {
			s.paused = false
			s.Center = -float64(n) * s.Config.WidthRatio
		}
		return
	}

	ticks := float64(s.Config.CycleMs) / float64(s.Config.SpeedMs)
	distance := float64(n) * (1 + 2*s.Config.WidthRatio)
	s.Center += distance / ticks

	end := float64(n) * (1 + s.Config.WidthRatio)
	if s.Center >= end {
		s.Center = end
		s.paused = true
		s.pauseStart = now
	}
}

// Reset restarts the sweep, call when the selection changes
func (s *ShimmerState) Reset() {
	s.Center = 0
	s.paused = false
}

// SetActive enables/disables shimmer
func (s *ShimmerState) SetActive(active bool) {
	s.Active = active && s.Config.Enabled && !s.Config.ReduceMotion
}

// Render colours text according to the current sweep position
func (s *ShimmerState) Render(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	if !s.Active {
		return fmt.Sprintf("\033[38;2;94;234;212m%s\033[0m", text) // ColorAccentBright
	}

	sigma := math.Max(1, s.Config.WidthRatio*float64(len(runes))/2)
	var b strings.Builder
	for i, r := range runes {
		dx := float64(i) - s.Center
		w := math.Exp(-(dx * dx) / (2 * sigma * sigma))
		if s.TrueColor {
			// blend ColorSecondaryText towards a pale mint
			red := int(169*(1-w) + 220*w)
			green := int(190*(1-w) + 255*w)
			blue := int(194*(1-w) + 245*w)
			fmt.Fprintf(&b, "\033[38;2;%d;%d;%dm%c", red, green, blue, r)
		} else if w > 0.5 {
			fmt.Fprintf(&b, "\033[38;5;122m%c", r)
		} else {
			fmt.Fprintf(&b, "\033[38;5;250m%c", r)
		}
	}
	b.WriteString("\033[0m")
	return b.String()
}

// TickInterval returns the interval for tea.Tick commands, zero when idle
func (s *ShimmerState) TickInterval() time.Duration {
	if !s.ShouldTick() {
		return 0
	}
	return time.Duration(s.Config.SpeedMs) * time.Millisecond
}

// ShouldTick returns true if shimmer should be ticking
func (s *ShimmerState) ShouldTick() bool {
	return s.Active && s.Config.Enabled && !s.Config.ReduceMotion
}
