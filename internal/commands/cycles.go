package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
	"github.com/balkashynov/celltrack/internal/tui"
)

var nextCmd = &cobra.Command{
	Use:   "next [cell-id]",
	Short: "Show the number the next logged cycle will get",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		n, err := store.NextCycleNumber(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Next cycle for %s: #%d\n", args[0], n)
		return nil
	}),
}

var logCmd = &cobra.Command{
	Use:   "log [cell-id] [readings]",
	Short: "Record a charge/discharge cycle",
	Long: `Record the next cycle of a running cell. The cycle number is assigned automatically.

Smart syntax:
  qc=2.0        Charge capacity in Ah (qc=2000mAh also works)
  qd=1.8        Discharge capacity in Ah
  vc=1.8        Max charge voltage in V (vc=1800mV also works)
  vd=1.2        Min discharge voltage in V
  j=20          Current density in mA/cm²
  ph=3.1        Electrolyte pH (optional)
  anything else becomes the observation

Without readings an interactive form opens.

Examples:
  celltrack log ZB-042 qc=2.0 qd=1.8 vc=1.8 vd=1.2 j=20 dendrites at edge
  celltrack log ZB-042 qc=2000mAh qd=1750mAh vc=1.79 vd=1.21 j=20 --photo ./c7.jpg
  celltrack log ZB-042`,
	Args: cobra.MinimumNArgs(1),
	RunE: withStore(runLog),
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	noUI, _ := cmd.Flags().GetBool("no-ui")

	cellID, err := parser.NormalizeCellID(args[0])
	if err != nil {
		return err
	}

	if len(args) == 1 && !noUI {
		return runLogForm(cmd, cellID)
	}

	parsed := parser.ParseCycle(strings.Join(args[1:], " "))
	m, err := measurementsFrom(parsed)
	if err != nil {
		return err
	}

	keys, err := saveAttachments(cmd, cellID)
	if err != nil {
		return err
	}
	m.AttachmentKey = keys.attachment
	m.PhotoKey = keys.photo

	cycle, err := store.LogCycle(ctx, cellID, m)
	if err != nil {
		keys.discard(ctx)
		return err
	}
	printLogged(cycle)
	return nil
}

func runLogForm(cmd *cobra.Command, cellID string) error {
	ctx := cmd.Context()
	keys, err := saveAttachments(cmd, cellID)
	if err != nil {
		return err
	}

	prefilled := make(map[string]string)
	if obs, _ := cmd.Flags().GetString("obs"); obs != "" {
		prefilled["observation"] = obs
	}

	cycle, err := tui.RunLogCycleTUI(ctx, store, cellID, tui.LogFormOptions{
		Prefilled:     prefilled,
		AttachmentKey: keys.attachment,
		PhotoKey:      keys.photo,
	})
	if err != nil || cycle == nil {
		keys.discard(ctx)
	}
	if err != nil {
		return err
	}
	if cycle == nil {
		fmt.Println("❌ Cycle not logged.")
		return nil
	}
	printLogged(cycle)
	return nil
}

// measurementsFrom turns a smart-syntax line into store input. All five readings are required.
func measurementsFrom(parsed parser.ParsedCycle) (db.Measurements, error) {
	if len(parsed.Errors) > 0 {
		return db.Measurements{}, fmt.Errorf("%s", strings.Join(parsed.Errors, "; "))
	}
	if missing := parsed.Missing(); len(missing) > 0 {
		return db.Measurements{}, fmt.Errorf("missing readings: %s", strings.Join(missing, ", "))
	}
	return db.Measurements{
		CurrentDensity:    *parsed.CurrentDensity,
		ChargeCapacity:    *parsed.ChargeCapacity,
		DischargeCapacity: *parsed.DischargeCapacity,
		ChargeVoltage:     *parsed.ChargeVoltage,
		DischargeVoltage:  *parsed.DischargeVoltage,
		PH:                parsed.PH,
		Observation:       parsed.Observation,
	}, nil
}

func printLogged(c *models.Cycle) {
	fmt.Printf("📈 Logged cycle #%d for %s\n", c.CycleNo, c.CellID)
	fmt.Printf("  CE: %.2f%%  ΔV: %.3f V  Capacity: %.0f mAh\n", c.CEPct, c.DeltaV, c.CapacityMAh)
	if c.Observation != "" {
		fmt.Printf("  Observation: %s\n", c.Observation)
	}
}

type attachmentKeys struct {
	attachment string
	photo      string
}

// saveAttachments stores the --attach and --photo files before the cycle is written
func saveAttachments(cmd *cobra.Command, cellID string) (attachmentKeys, error) {
	var keys attachmentKeys
	ctx := cmd.Context()

	if path, _ := cmd.Flags().GetString("attach"); path != "" {
		key, err := blob.SaveFile(ctx, blobs, cellID, path)
		if err != nil {
			return keys, err
		}
		keys.attachment = key
	}
	if path, _ := cmd.Flags().GetString("photo"); path != "" {
		key, err := blob.SaveFile(ctx, blobs, cellID, path)
		if err != nil {
			keys.discard(ctx)
			return attachmentKeys{}, err
		}
		keys.photo = key
	}
	return keys, nil
}

// discard removes blobs whose cycle was never written
func (k attachmentKeys) discard(ctx context.Context) {
	for _, key := range []string{k.attachment, k.photo} {
		if key == "" {
			continue
		}
		if _, err := blobs.Delete(ctx, key); err != nil {
			logger.Warn("failed to remove orphaned attachment", zap.String("key", key), zap.Error(err))
		}
	}
}

var editCmd = &cobra.Command{
	Use:   "edit [cell-id] [cycle-no] [readings]",
	Short: "Correct a logged cycle",
	Long: `Correct the readings of an existing cycle. Only the given values change.

Readings use the same smart syntax as 'log'; flags work too.
CE% and ΔV keep their logged values unless --recompute is given.

Examples:
  celltrack edit ZB-042 3 qd=1.75
  celltrack edit ZB-042 3 --qd 1.75 --recompute
  celltrack edit ZB-042 3 --obs "electrolyte topped up"`,
	Args: cobra.MinimumNArgs(2),
	RunE: withStore(runEdit),
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cycleNo, err := parseCycleNo(args[1])
	if err != nil {
		return err
	}

	parsed := parser.ParseCycle(strings.Join(args[2:], " "))
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("%s", strings.Join(parsed.Errors, "; "))
	}
	changes := changesFrom(parsed)
	if err := applyEditFlags(cmd, &changes); err != nil {
		return err
	}

	cellID, err := parser.NormalizeCellID(args[0])
	if err != nil {
		return err
	}
	keys, err := saveAttachments(cmd, cellID)
	if err != nil {
		return err
	}
	if keys.attachment != "" {
		changes.AttachmentKey = &keys.attachment
	}
	if keys.photo != "" {
		changes.PhotoKey = &keys.photo
	}

	cycle, err := store.EditCycle(ctx, cellID, cycleNo, changes)
	if err != nil {
		keys.discard(ctx)
		return err
	}

	fmt.Printf("✏️  Updated cycle #%d of %s\n", cycle.CycleNo, cycle.CellID)
	fmt.Printf("  QC %.3f Ah  QD %.3f Ah  VC %.3f V  VD %.3f V  J %.2f\n",
		cycle.ChargeCapacity, cycle.DischargeCapacity, cycle.ChargeVoltage, cycle.DischargeVoltage, cycle.CurrentDensity)
	fmt.Printf("  CE: %.2f%%  ΔV: %.3f V\n", cycle.CEPct, cycle.DeltaV)
	return nil
}

// changesFrom keeps only the readings present in the line
func changesFrom(parsed parser.ParsedCycle) db.CycleChanges {
	changes := db.CycleChanges{
		CurrentDensity:    parsed.CurrentDensity,
		ChargeCapacity:    parsed.ChargeCapacity,
		DischargeCapacity: parsed.DischargeCapacity,
		ChargeVoltage:     parsed.ChargeVoltage,
		DischargeVoltage:  parsed.DischargeVoltage,
		PH:                parsed.PH,
	}
	if parsed.Observation != "" {
		obs := parsed.Observation
		changes.Observation = &obs
	}
	return changes
}

// applyEditFlags lets explicit flags override the smart syntax
func applyEditFlags(cmd *cobra.Command, changes *db.CycleChanges) error {
	floats := map[string]**float64{
		"j":  &changes.CurrentDensity,
		"qc": &changes.ChargeCapacity,
		"qd": &changes.DischargeCapacity,
		"vc": &changes.ChargeVoltage,
		"vd": &changes.DischargeVoltage,
		"ph": &changes.PH,
	}
	for name, dst := range floats {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetFloat64(name)
		if err != nil {
			return err
		}
		*dst = &v
	}
	if cmd.Flags().Changed("obs") {
		obs, _ := cmd.Flags().GetString("obs")
		changes.Observation = &obs
	}
	changes.RecomputeDerived, _ = cmd.Flags().GetBool("recompute")
	return nil
}

var rmCycleCmd = &cobra.Command{
	Use:   "rm-cycle [cell-id] [cycle-no]",
	Short: "Remove the latest cycle of a cell",
	Long: `Remove a wrongly logged cycle. Only the latest cycle can be removed,
so the next 'log' reuses its number.`,
	Args: cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cycleNo, err := parseCycleNo(args[1])
		if err != nil {
			return err
		}

		snap, err := store.GetCellHistory(ctx, args[0])
		if err != nil {
			return err
		}
		var removed *models.Cycle
		for i := range snap.Cycles {
			if snap.Cycles[i].CycleNo == cycleNo {
				removed = &snap.Cycles[i]
			}
		}

		if err := store.DeleteCycle(ctx, snap.Cell.CellID, cycleNo); err != nil {
			return err
		}
		if removed != nil {
			attachmentKeys{attachment: removed.AttachmentKey, photo: removed.PhotoKey}.discard(ctx)
		}
		fmt.Printf("🗑️  Removed cycle #%d of %s\n", cycleNo, snap.Cell.CellID)
		return nil
	}),
}

func parseCycleNo(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid cycle number '%s'", raw)
	}
	return n, nil
}

func init() {
	logCmd.Flags().Bool("no-ui", false, "Never open the interactive form")
	logCmd.Flags().String("obs", "", "Observation (prefills the form)")
	logCmd.Flags().String("attach", "", "Data file to attach")
	logCmd.Flags().String("photo", "", "Photo to attach")

	editCmd.Flags().Float64("j", 0, "Current density in mA/cm²")
	editCmd.Flags().Float64("qc", 0, "Charge capacity in Ah")
	editCmd.Flags().Float64("qd", 0, "Discharge capacity in Ah")
	editCmd.Flags().Float64("vc", 0, "Max charge voltage in V")
	editCmd.Flags().Float64("vd", 0, "Min discharge voltage in V")
	editCmd.Flags().Float64("ph", 0, "Electrolyte pH")
	editCmd.Flags().String("obs", "", "Observation")
	editCmd.Flags().String("attach", "", "Replace the data file")
	editCmd.Flags().String("photo", "", "Replace the photo")
	editCmd.Flags().Bool("recompute", false, "Recompute CE%, ΔV and mAh from the edited values")
}
