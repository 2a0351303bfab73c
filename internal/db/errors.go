package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies a store failure
type Kind int

const (
	KindUnknown Kind = iota
	KindDuplicateCellID
	KindChannelBusy
	KindInvalidChannel
	KindInvalidCellID
	KindNotFound
	KindNotRunning
	KindInvalidMeasurement
	KindDivisionByZero
	KindImmutableField
	KindStorageUnavailable
	KindConstraintViolation
)

var kindCodes = map[Kind]string{
	KindUnknown:             "INTERNAL",
	KindDuplicateCellID:     "DUPLICATE_CELL_ID",
	KindChannelBusy:         "CHANNEL_BUSY",
	KindInvalidChannel:      "INVALID_CHANNEL",
	KindInvalidCellID:       "INVALID_CELL_ID",
	KindNotFound:            "NOT_FOUND",
	KindNotRunning:          "NOT_RUNNING",
	KindInvalidMeasurement:  "INVALID_MEASUREMENT",
	KindDivisionByZero:      "DIVISION_BY_ZERO",
	KindImmutableField:      "IMMUTABLE_FIELD",
	KindStorageUnavailable:  "STORAGE_UNAVAILABLE",
	KindConstraintViolation: "CONSTRAINT_VIOLATION",
}

// Code returns the stable string used by the HTTP API and logs
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// Error is returned by every Store operation that fails
type Error struct {
	Kind    Kind
	CellID  string
	Channel int
	Field   string
	CycleNo int
	Err     error
}

// Sentinels for errors.Is matching. Only Kind is compared.
var (
	ErrDuplicateCellID     = &Error{Kind: KindDuplicateCellID}
	ErrChannelBusy         = &Error{Kind: KindChannelBusy}
	ErrInvalidChannel      = &Error{Kind: KindInvalidChannel}
	ErrInvalidCellID       = &Error{Kind: KindInvalidCellID}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrNotRunning          = &Error{Kind: KindNotRunning}
	ErrInvalidMeasurement  = &Error{Kind: KindInvalidMeasurement}
	ErrDivisionByZero      = &Error{Kind: KindDivisionByZero}
	ErrImmutableField      = &Error{Kind: KindImmutableField}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindDuplicateCellID:
		msg = fmt.Sprintf("cell %q already exists", e.CellID)
	case KindChannelBusy:
		msg = fmt.Sprintf("channel %d is occupied by cell %q", e.Channel, e.CellID)
	case KindInvalidChannel:
		msg = fmt.Sprintf("channel %d is out of range", e.Channel)
	case KindInvalidCellID:
		msg = fmt.Sprintf("invalid cell ID %q", e.CellID)
	case KindNotFound:
		if e.CycleNo > 0 {
			msg = fmt.Sprintf("cycle %d of cell %q not found", e.CycleNo, e.CellID)
		} else {
			msg = fmt.Sprintf("cell %q not found", e.CellID)
		}
	case KindNotRunning:
		msg = fmt.Sprintf("cell %q is not running", e.CellID)
	case KindInvalidMeasurement:
		msg = fmt.Sprintf("invalid measurement %s", e.Field)
	case KindDivisionByZero:
		msg = "charge capacity is zero, CE% undefined"
	case KindImmutableField:
		msg = fmt.Sprintf("field %s cannot be changed", e.Field)
	case KindStorageUnavailable:
		msg = "storage unavailable"
	case KindConstraintViolation:
		msg = "constraint violation"
		if e.CellID != "" {
			msg = fmt.Sprintf("constraint violation for cell %q", e.CellID)
		}
	default:
		msg = "store error"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use the sentinels above
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the stable code of the error kind
func (e *Error) Code() string { return e.Kind.Code() }

// KindOf extracts the Kind from an error chain, KindUnknown when absent
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify turns a raw driver/gorm error into a typed store error.
// Errors that are already typed pass through.
func classify(err error, cellID string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if isUnavailable(err) {
		return &Error{Kind: KindStorageUnavailable, CellID: cellID, Err: err}
	}
	if isConstraint(err) {
		return &Error{Kind: KindConstraintViolation, CellID: cellID, Err: err}
	}
	return &Error{Kind: KindUnknown, CellID: cellID, Err: err}
}

func isConstraint(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "40001", "40P01":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "sql: database is closed")
}
