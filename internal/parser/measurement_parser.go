package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParsedCycle represents cycle readings parsed from a smart-syntax line.
// Only the keys present in the input are set.
type ParsedCycle struct {
	CurrentDensity    *float64 // mA/cm²
	ChargeCapacity    *float64 // Ah
	DischargeCapacity *float64 // Ah
	ChargeVoltage     *float64 // V
	DischargeVoltage  *float64 // V
	PH                *float64
	Observation       string
	Errors            []string
}

var (
	measurementRegex = regexp.MustCompile(`(?i)\b(qc|qd|vc|vd|j|ph)=(\S+)`)
	capacityRegex    = regexp.MustCompile(`(?i)^([0-9]*\.?[0-9]+)(mah|ah)?$`)
	voltageRegex     = regexp.MustCompile(`(?i)^([0-9]*\.?[0-9]+)(mv|v)?$`)
	plainNumberRegex = regexp.MustCompile(`^([0-9]*\.?[0-9]+)$`)
)

// ParseCycle extracts readings from a cycle line
// Syntax: "qc=2.0 qd=1.8 vc=1.8 vd=1.2 j=20 ph=3.1 free text observation"
// - qc/qd: charge/discharge capacity in Ah, or with an mAh suffix (qd=1800mAh)
// - vc/vd: max charge / min discharge voltage in V, or mV
// - j: current density in mA/cm²
// - ph: electrolyte pH
// Everything else becomes the observation.
func ParseCycle(input string) ParsedCycle {
	result := ParsedCycle{Errors: []string{}}

	for _, match := range measurementRegex.FindAllStringSubmatch(input, -1) {
		key := strings.ToLower(match[1])
		raw := match[2]

		var (
			value float64
			err   error
		)
		switch key {
		case "qc", "qd":
			value, err = parseCapacity(raw)
		case "vc", "vd":
			value, err = parseVoltage(raw)
		default:
			value, err = parsePlain(raw)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid %s '%s': %v", key, raw, err))
			continue
		}

		v := value
		switch key {
		case "qc":
			result.ChargeCapacity = &v
		case "qd":
			result.DischargeCapacity = &v
		case "vc":
			result.ChargeVoltage = &v
		case "vd":
			result.DischargeVoltage = &v
		case "j":
			result.CurrentDensity = &v
		case "ph":
			result.PH = &v
		}
	}

	// Clean up the observation (remove extra spaces)
	rest := measurementRegex.ReplaceAllString(input, "")
	result.Observation = strings.Join(strings.Fields(rest), " ")

	return result
}

// Missing lists the required readings absent from a parsed line
func (p ParsedCycle) Missing() []string {
	var missing []string
	if p.ChargeCapacity == nil {
		missing = append(missing, "qc")
	}
	if p.DischargeCapacity == nil {
		missing = append(missing, "qd")
	}
	if p.ChargeVoltage == nil {
		missing = append(missing, "vc")
	}
	if p.DischargeVoltage == nil {
		missing = append(missing, "vd")
	}
	if p.CurrentDensity == nil {
		missing = append(missing, "j")
	}
	return missing
}

// parseCapacity returns Ah; values with an mAh suffix are divided by 1000
func parseCapacity(raw string) (float64, error) {
	m := capacityRegex.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("not a capacity")
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(m[2], "mah") {
		value /= 1000
	}
	return value, nil
}

// parseVoltage returns V; values with an mV suffix are divided by 1000
func parseVoltage(raw string) (float64, error) {
	m := voltageRegex.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("not a voltage")
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(m[2], "mv") {
		value /= 1000
	}
	return value, nil
}

func parsePlain(raw string) (float64, error) {
	if !plainNumberRegex.MatchString(raw) {
		return 0, fmt.Errorf("not a number")
	}
	return strconv.ParseFloat(raw, 64)
}

// ParseNumber parses a form field, tolerating surrounding spaces and a decimal comma
func ParseNumber(input string) (float64, error) {
	input = strings.ReplaceAll(strings.TrimSpace(input), ",", ".")
	if input == "" {
		return 0, fmt.Errorf("value is required")
	}
	return parsePlain(input)
}
