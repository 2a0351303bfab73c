package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dateRegex     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoDateRegex  = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	relativeRegex = regexp.MustCompile(`^(\d+)\s*(day|days|week|weeks)\s+ago$`)
)

// ParseAssemblyDate parses the date a cell was assembled
// Supported formats:
// - dd/mm/yyyy (e.g., "15/12/2024")
// - yyyy-mm-dd (e.g., "2024-12-15")
// - today, yesterday
// - X days ago, X weeks ago
// Dates in the future are rejected.
func ParseAssemblyDate(input string) (*time.Time, error) {
	return parseAssemblyDate(input, time.Now())
}

func parseAssemblyDate(input string, now time.Time) (*time.Time, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var date time.Time
	switch input {
	case "today":
		date = today
	case "yesterday":
		date = today.AddDate(0, 0, -1)
	default:
		parsed, err := parseCalendarDate(input, now.Location())
		if err != nil {
			parsed, err = parseAgo(input, today)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid date format. Use: dd/mm/yyyy, yyyy-mm-dd, today, yesterday, X days ago or X weeks ago")
		}
		date = parsed
	}

	if date.After(today) {
		return nil, fmt.Errorf("assembly date %s is in the future", date.Format("02/01/2006"))
	}
	return &date, nil
}

// parseCalendarDate parses dd/mm/yyyy or yyyy-mm-dd
func parseCalendarDate(input string, loc *time.Location) (time.Time, error) {
	var day, month, year int
	if m := dateRegex.FindStringSubmatch(input); len(m) == 4 {
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	} else if m := isoDateRegex.FindStringSubmatch(input); len(m) == 4 {
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	} else {
		return time.Time{}, fmt.Errorf("invalid date format")
	}

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month must be between 1 and 12")
	}
	if year < 2000 || year > 2100 {
		return time.Time{}, fmt.Errorf("year must be between 2000 and 2100")
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)

	// Check if date is valid (handles leap years, etc.)
	if date.Day() != day || date.Month() != time.Month(month) || date.Year() != year {
		return time.Time{}, fmt.Errorf("invalid date")
	}
	return date, nil
}

// parseAgo parses "3 days ago" and "2 weeks ago"
func parseAgo(input string, today time.Time) (time.Time, error) {
	matches := relativeRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return time.Time{}, fmt.Errorf("invalid relative date format")
	}

	amount, err := strconv.Atoi(matches[1])
	if err != nil || amount > 3650 {
		return time.Time{}, fmt.Errorf("invalid number")
	}

	switch matches[2] {
	case "day", "days":
		return today.AddDate(0, 0, -amount), nil
	default:
		return today.AddDate(0, 0, -amount*7), nil
	}
}

// FormatDate formats an optional date for tables, "—" when unset
func FormatDate(date *time.Time) string {
	if date == nil {
		return "—"
	}
	return date.Format("02/01/2006")
}

// FormatAge describes how long ago a date was, e.g. "started 3 days ago"
func FormatAge(t time.Time) string {
	days := int(time.Since(t).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 14:
		return fmt.Sprintf("%d days ago", days)
	default:
		return fmt.Sprintf("%d weeks ago", days/7)
	}
}
