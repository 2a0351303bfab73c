package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/config"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	dir     string
	cfgFile string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`lab:
  channels: 4
database:
  driver: sqlite
  path: %s
  acquire_timeout: 10s
blob:
  driver: fs
  fs_root: %s
logging:
  level: error
`, filepath.Join(dir, "celltrack.db"), filepath.Join(dir, "media"))
	require.NoError(t, os.WriteFile(cfgFile, []byte(yaml), 0644))
	return testEnv{dir: dir, cfgFile: cfgFile}
}

// resetFlags clears flag values left over from a previous Execute
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func (e testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(append([]string{"--config", e.cfgFile}, args...))
	return Execute()
}

func (e testEnv) openStore(t *testing.T) *db.Store {
	t.Helper()
	cfg, err := config.Load(e.cfgFile)
	require.NoError(t, err)
	s, err := db.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCellLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	photo := filepath.Join(env.dir, "zb1.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("not really a jpeg"), 0644))
	data := filepath.Join(env.dir, "cycle2.json")
	require.NoError(t, os.WriteFile(data, []byte(`{"points":[]}`), 0644))

	require.NoError(t, env.run(t, "start", "ZB-1", "-c", "1", "--assembled", "yesterday", "--rated", "25", "--photo", photo))

	err := env.run(t, "start", "ZB-2", "-c", "1")
	assert.ErrorIs(t, err, db.ErrChannelBusy)
	err = env.run(t, "start", "ZB-1", "-c", "2")
	assert.ErrorIs(t, err, db.ErrDuplicateCellID)
	err = env.run(t, "start", "ZB-3", "-c", "9")
	assert.ErrorIs(t, err, db.ErrInvalidChannel)

	require.NoError(t, env.run(t, "log", "ZB-1", "qc=2", "qd=1.8", "vc=1.8", "vd=1.2", "j=20", "first", "cycle"))
	require.NoError(t, env.run(t, "log", "ZB-1", "qc=2000mAh", "qd=1.9", "vc=1.8", "vd=1.2", "j=20", "--attach", data))

	err = env.run(t, "log", "ZB-1", "qc=2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing readings: qd, vc, vd, j")

	require.NoError(t, env.run(t, "edit", "ZB-1", "2", "qd=1.7", "--recompute"))

	err = env.run(t, "rm-cycle", "ZB-1", "1")
	assert.ErrorIs(t, err, db.ErrConstraintViolation)

	xlsx := filepath.Join(env.dir, "zb1.xlsx")
	pdf := filepath.Join(env.dir, "zb1.pdf")
	require.NoError(t, env.run(t, "export", "ZB-1", "-o", xlsx))
	require.NoError(t, env.run(t, "export", "ZB-1", "-o", pdf))
	assert.FileExists(t, xlsx)
	assert.FileExists(t, pdf)

	err = env.run(t, "rm", "ZB-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop it first")

	require.NoError(t, env.run(t, "stop", "ZB-1"))
	require.NoError(t, env.run(t, "stop", "ZB-1"))

	s := env.openStore(t)
	snap, err := s.GetCellHistory(ctx, "ZB-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, snap.Cell.Status)
	assert.Equal(t, 25.0, snap.Cell.RatedCapacity)
	assert.NotNil(t, snap.Cell.AssemblyDate)
	assert.NotEmpty(t, snap.Cell.StartPhoto)
	require.Len(t, snap.Cycles, 2)
	assert.Equal(t, "first cycle", snap.Cycles[0].Observation)
	assert.InDelta(t, 1.7, snap.Cycles[1].DischargeCapacity, 1e-9)
	assert.InDelta(t, 85.0, snap.Cycles[1].CEPct, 1e-9)
	assert.NotEmpty(t, snap.Cycles[1].AttachmentKey)
	require.NoError(t, s.Close())

	media, err := blob.NewFilesystem(filepath.Join(env.dir, "media"))
	require.NoError(t, err)
	infos, err := media.List(ctx, blob.CellPrefix("ZB-1"))
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	require.NoError(t, env.run(t, "rm", "ZB-1"))
	infos, err = media.List(ctx, blob.CellPrefix("ZB-1"))
	require.NoError(t, err)
	assert.Empty(t, infos)

	err = env.run(t, "rm", "ZB-1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestLogRejectsStoppedCell(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "start", "ZB-9", "-c", "4"))
	require.NoError(t, env.run(t, "stop", "ZB-9"))

	err := env.run(t, "log", "ZB-9", "qc=2", "qd=1.8", "vc=1.8", "vd=1.2", "j=20")
	assert.ErrorIs(t, err, db.ErrNotRunning)

	err = env.run(t, "log", "ZB-9", "--no-ui")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing readings")

	// channel 4 is free again
	require.NoError(t, env.run(t, "start", "ZB-10", "-c", "4"))
}

func TestCellFilter(t *testing.T) {
	f, err := cellFilter("", "zb")
	require.NoError(t, err)
	assert.Equal(t, db.CellFilter{Search: "zb"}, f)

	f, err = cellFilter("Running", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, f.Status)

	f, err = cellFilter("all", "")
	require.NoError(t, err)
	assert.Empty(t, f.Status)

	_, err = cellFilter("paused", "")
	assert.Error(t, err)
}

func TestMeasurementsFrom(t *testing.T) {
	m, err := measurementsFrom(parser.ParseCycle("qc=2 qd=1800mAh vc=1.8 vd=1200mV j=20 ph=3.1 dull surface"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.ChargeCapacity)
	assert.InDelta(t, 1.8, m.DischargeCapacity, 1e-9)
	assert.InDelta(t, 1.2, m.DischargeVoltage, 1e-9)
	require.NotNil(t, m.PH)
	assert.Equal(t, 3.1, *m.PH)
	assert.Equal(t, "dull surface", m.Observation)

	_, err = measurementsFrom(parser.ParseCycle("qc=abc qd=1 vc=1 vd=1 j=1"))
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestChangesFrom(t *testing.T) {
	tests := []struct {
		input string
		want  db.CycleChanges
	}{
		{"qd=1.7", db.CycleChanges{DischargeCapacity: ptr(1.7)}},
		{"topped up", db.CycleChanges{Observation: ptr("topped up")}},
		{"j=20 ph=3.4 re-sealed", db.CycleChanges{CurrentDensity: ptr(20.0), PH: ptr(3.4), Observation: ptr("re-sealed")}},
	}
	for _, tt := range tests {
		got := changesFrom(parser.ParseCycle(tt.input))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("changesFrom(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}
}

func TestSnapshotMarkdown(t *testing.T) {
	channel := 3
	snap := &db.Snapshot{
		Cell: models.Cell{
			CellID:    "ZB-7",
			Chemistry: "ZnBr2",
			Channel:   &channel,
			Status:    models.StatusRunning,
			Notes:     "glass fibre | felt",
		},
	}
	md := snapshotMarkdown(snap)
	assert.Contains(t, md, "# ZB-7")
	assert.Contains(t, md, "(channel 3)")
	assert.Contains(t, md, `glass fibre \| felt`)
	assert.Contains(t, md, "_No cycles logged yet._")

	snap.Cycles = []models.Cycle{{CycleNo: 1, ChargeCapacity: 2, DischargeCapacity: 1.8, CEPct: 90, Observation: "line1\nline2"}}
	md = snapshotMarkdown(snap)
	assert.Contains(t, md, "| 1 | 0.00 | 2.000 | 1.800 |")
	assert.Contains(t, md, "| 90.00 |")
	assert.Contains(t, md, "line1 line2 |")
}

func TestParseCycleNo(t *testing.T) {
	n, err := parseCycleNo("#3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, bad := range []string{"0", "-1", "three", ""} {
		_, err := parseCycleNo(bad)
		assert.Error(t, err, bad)
	}
}

func TestExportTarget(t *testing.T) {
	tests := []struct {
		format, output         string
		wantFormat, wantOutput string
		wantErr                bool
	}{
		{"", "", "xlsx", "ZB-1_report.xlsx", false},
		{"pdf", "", "pdf", "ZB-1_report.pdf", false},
		{"", "out/r.PDF", "pdf", "out/r.PDF", false},
		{"excel", "r.bin", "xlsx", "r.bin", false},
		{"csv", "", "", "", true},
	}
	for _, tt := range tests {
		format, output, err := exportTarget("ZB-1", tt.format, tt.output)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantFormat, format)
		assert.Equal(t, tt.wantOutput, output)
	}
}

func TestListen(t *testing.T) {
	l, err := listen("127.0.0.1:0", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, l.Addr().String())
	require.NoError(t, l.Close())

	_, err = listen("not-an-addr", 0)
	assert.Error(t, err)
}
