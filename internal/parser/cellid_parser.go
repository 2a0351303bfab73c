package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCellIDLength bounds cell IDs; they end up in file names and blob keys
const MaxCellIDLength = 64

var cellIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NormalizeCellID trims and validates a user-assigned cell ID.
// Accepts formats like "ZnBr_001", "S-12", "cellA.2". Case is preserved.
func NormalizeCellID(cellID string) (string, error) {
	cellID = strings.TrimSpace(cellID)
	if cellID == "" {
		return "", fmt.Errorf("cell ID is required")
	}
	if len(cellID) > MaxCellIDLength {
		return "", fmt.Errorf("cell ID must be at most %d characters", MaxCellIDLength)
	}
	if !cellIDRegex.MatchString(cellID) {
		return "", fmt.Errorf("invalid cell ID %q. Use letters, digits, '.', '_' or '-'", cellID)
	}
	return cellID, nil
}

// IsValidCellID checks if a string is an acceptable cell ID
func IsValidCellID(cellID string) bool {
	_, err := NormalizeCellID(cellID)
	return err == nil
}
