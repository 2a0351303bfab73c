package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/balkashynov/celltrack/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestStore opens a store on a fresh SQLite file
func newTestStore(t *testing.T, channels int) *Store {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Lab.Channels = channels
	cfg.Database.Path = filepath.Join(t.TempDir(), "celltrack.db")
	cfg.Database.AcquireTimeout = "10s"

	s, err := Open(cfg, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func measurements() Measurements {
	return Measurements{
		CurrentDensity:    20,
		ChargeCapacity:    2.0,
		DischargeCapacity: 1.8,
		ChargeVoltage:     1.8,
		DischargeVoltage:  1.2,
	}
}

func ptr[T any](v T) *T { return &v }
