package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindChannelBusy, CellID: "S-01", Channel: 3})

	assert.ErrorIs(t, err, ErrChannelBusy)
	assert.NotErrorIs(t, err, ErrDuplicateCellID)

	var typed *Error
	assert.True(t, errors.As(err, &typed))
	assert.Equal(t, 3, typed.Channel)
	assert.Equal(t, "CHANNEL_BUSY", typed.Code())
	assert.Contains(t, err.Error(), `channel 3 is occupied by cell "S-01"`)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(&Error{Kind: KindNotFound}))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "INTERNAL", KindUnknown.Code())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil-safe typed passthrough", &Error{Kind: KindNotRunning}, KindNotRunning},
		{"gorm duplicate", gorm.ErrDuplicatedKey, KindConstraintViolation},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: cycles.cell_id, cycles.cycle_no (2067)"), KindConstraintViolation},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, KindConstraintViolation},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, KindConstraintViolation},
		{"postgres connection", &pgconn.PgError{Code: "08006"}, KindStorageUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindStorageUnavailable},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), KindStorageUnavailable},
		{"other", errors.New("syntax error"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(classify(tt.err, "S-01")))
		})
	}

	assert.NoError(t, classify(nil, ""))
}
