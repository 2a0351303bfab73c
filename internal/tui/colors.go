package tui

// Color constants for the celltrack TUI theme
const (
	// Base Colors
	ColorCardBackground = "#10222A" // Deep teal
	ColorBorder         = "#33505A" // Slate teal

	// Text Colors
	ColorPrimaryText   = "#E6F1F2" // Labels, input, titles
	ColorSecondaryText = "#A9BEC2" // Values, placeholders
	ColorDisabledText  = "#6A7F84" // Free channels, skipped fields
	ColorPlaceholder   = "#A9BEC2"
	ColorHelpText      = "240" // Dark grey for help text

	// Accent Colors
	ColorAccentMain   = "#14B8A6" // Selected row border, logo
	ColorAccentBright = "#5EEAD4" // Headers, current step

	// State Colors
	ColorError   = "#EF4444" // Validation errors, stop confirmation
	ColorSuccess = "#22C55E" // Running cells, saved
	ColorWarning = "#F59E0B" // Low CE%, stale data
)
