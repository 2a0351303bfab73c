package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/balkashynov/celltrack/internal/models"
)

// Measurements holds the raw readings for one cycle
type Measurements struct {
	CurrentDensity    float64 // mA/cm²
	ChargeCapacity    float64 // Ah
	DischargeCapacity float64 // Ah
	ChargeVoltage     float64 // V
	DischargeVoltage  float64 // V
	PH                *float64
	Observation       string
	AttachmentKey     string
	PhotoKey          string
}

// CycleChanges is a partial update. Nil fields are left alone.
type CycleChanges struct {
	CellID  *string // immutable, only accepted when unchanged
	CycleNo *int    // immutable, only accepted when unchanged

	CurrentDensity    *float64
	ChargeCapacity    *float64
	DischargeCapacity *float64
	ChargeVoltage     *float64
	DischargeVoltage  *float64
	PH                *float64
	Observation       *string
	AttachmentKey     *string
	PhotoKey          *string

	// RecomputeDerived refreshes CE%, ΔV and mAh from the edited values.
	// Off by default: edits keep the derived values computed at insert time.
	RecomputeDerived bool
}

// Snapshot is a cell with its cycles ordered by cycle number
type Snapshot struct {
	Cell   models.Cell    `json:"cell"`
	Cycles []models.Cycle `json:"cycles"`
}

// Latest returns the highest numbered cycle, nil when none were logged
func (s *Snapshot) Latest() *models.Cycle {
	if len(s.Cycles) == 0 {
		return nil
	}
	return &s.Cycles[len(s.Cycles)-1]
}

func invalidMeasurement(cellID, field string, value float64) error {
	return &Error{
		Kind:   KindInvalidMeasurement,
		CellID: cellID,
		Field:  field,
		Err:    fmt.Errorf("%s must be a positive number, got %v", field, value),
	}
}

func checkPositive(cellID, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return invalidMeasurement(cellID, field, v)
	}
	return nil
}

func checkPH(cellID string, ph *float64) error {
	if ph == nil {
		return nil
	}
	if math.IsNaN(*ph) || *ph < 0 || *ph > 14 {
		return &Error{
			Kind:   KindInvalidMeasurement,
			CellID: cellID,
			Field:  "ph",
			Err:    fmt.Errorf("ph must be within [0, 14], got %v", *ph),
		}
	}
	return nil
}

// Validate checks the required readings
func (m Measurements) Validate(cellID string) error {
	required := []struct {
		field string
		value float64
	}{
		{"charge_capacity", m.ChargeCapacity},
		{"discharge_capacity", m.DischargeCapacity},
		{"charge_voltage", m.ChargeVoltage},
		{"discharge_voltage", m.DischargeVoltage},
		{"current_density", m.CurrentDensity},
	}
	for _, r := range required {
		if err := checkPositive(cellID, r.field, r.value); err != nil {
			return err
		}
	}
	return checkPH(cellID, m.PH)
}

// deriveMetrics fills CE%, ΔV and mAh from the raw readings
func deriveMetrics(cellID string, c *models.Cycle) error {
	ce, err := models.CoulombicEfficiency(c.ChargeCapacity, c.DischargeCapacity)
	if err != nil {
		return &Error{Kind: KindDivisionByZero, CellID: cellID, Field: "charge_capacity", Err: err}
	}
	c.CEPct = ce
	c.DeltaV = models.VoltageDelta(c.ChargeVoltage, c.DischargeVoltage)
	c.CapacityMAh = models.CapacityMAh(c.DischargeCapacity)
	return nil
}

// maxCycleNo returns the highest cycle number of a cell, 0 when none
func maxCycleNo(tx *gorm.DB, cellID string) (int, error) {
	var last sql.NullInt64
	err := tx.Model(&models.Cycle{}).
		Where("cell_id = ?", cellID).
		Select("MAX(cycle_no)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 0, nil
	}
	return int(last.Int64), nil
}

// NextCycleNumber returns the number the next logged cycle will get
func (s *Store) NextCycleNumber(ctx context.Context, cellID string) (_ int, err error) {
	defer func(start time.Time) { observe("next_cycle_number", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return 0, err
	}

	var next int
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		if _, err := findCell(tx, id); err != nil {
			return err
		}
		last, err := maxCycleNo(tx, id)
		if err != nil {
			return err
		}
		next = last + 1
		return nil
	})
	if err != nil {
		return 0, classify(err, id)
	}
	return next, nil
}

// LogCycle appends a cycle to a running cell, numbering it max+1
func (s *Store) LogCycle(ctx context.Context, cellID string, m Measurements) (_ *models.Cycle, err error) {
	defer func(start time.Time) { observe("log_cycle", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(id); err != nil {
		s.logRejection("log cycle", err, zap.String("cell_id", id))
		return nil, err
	}

	cycle := models.Cycle{
		CellID:            id,
		CurrentDensity:    m.CurrentDensity,
		ChargeCapacity:    m.ChargeCapacity,
		DischargeCapacity: m.DischargeCapacity,
		ChargeVoltage:     m.ChargeVoltage,
		DischargeVoltage:  m.DischargeVoltage,
		PH:                m.PH,
		Observation:       m.Observation,
		AttachmentKey:     m.AttachmentKey,
		PhotoKey:          m.PhotoKey,
	}
	if err := deriveMetrics(id, &cycle); err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *gorm.DB) error {
		cell, err := findCell(tx, id)
		if err != nil {
			return err
		}
		if !cell.IsRunning() {
			return &Error{Kind: KindNotRunning, CellID: id}
		}

		last, err := maxCycleNo(tx, id)
		if err != nil {
			return err
		}
		cycle.CycleNo = last + 1
		return tx.Create(&cycle).Error
	})
	if err != nil {
		err = classify(err, id)
		s.logRejection("log cycle", err, zap.String("cell_id", id))
		return nil, err
	}

	s.log.Info("cycle logged",
		zap.String("cell_id", id),
		zap.Int("cycle_no", cycle.CycleNo),
		zap.Float64("ce_pct", cycle.CEPct),
		zap.Float64("delta_v", cycle.DeltaV))
	return &cycle, nil
}

// validate checks the immutable and edited fields of a change set
func (c CycleChanges) validate(cellID string, cycleNo int) error {
	if c.CellID != nil {
		if id, err := normalizeID(*c.CellID); err != nil || id != cellID {
			return &Error{Kind: KindImmutableField, CellID: cellID, CycleNo: cycleNo, Field: "cell_id"}
		}
	}
	if c.CycleNo != nil && *c.CycleNo != cycleNo {
		return &Error{Kind: KindImmutableField, CellID: cellID, CycleNo: cycleNo, Field: "cycle_no"}
	}

	edited := []struct {
		field string
		value *float64
	}{
		{"charge_capacity", c.ChargeCapacity},
		{"discharge_capacity", c.DischargeCapacity},
		{"charge_voltage", c.ChargeVoltage},
		{"discharge_voltage", c.DischargeVoltage},
		{"current_density", c.CurrentDensity},
	}
	for _, e := range edited {
		if e.value == nil {
			continue
		}
		if err := checkPositive(cellID, e.field, *e.value); err != nil {
			return err
		}
	}
	return checkPH(cellID, c.PH)
}

// apply copies the set fields onto cycle
func (c CycleChanges) apply(cycle *models.Cycle) {
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setFloat(&cycle.CurrentDensity, c.CurrentDensity)
	setFloat(&cycle.ChargeCapacity, c.ChargeCapacity)
	setFloat(&cycle.DischargeCapacity, c.DischargeCapacity)
	setFloat(&cycle.ChargeVoltage, c.ChargeVoltage)
	setFloat(&cycle.DischargeVoltage, c.DischargeVoltage)
	if c.PH != nil {
		ph := *c.PH
		cycle.PH = &ph
	}
	setString(&cycle.Observation, c.Observation)
	setString(&cycle.AttachmentKey, c.AttachmentKey)
	setString(&cycle.PhotoKey, c.PhotoKey)
}

// findCycle loads one cycle of a cell inside tx
func findCycle(tx *gorm.DB, cellID string, cycleNo int) (*models.Cycle, error) {
	var cycle models.Cycle
	err := tx.Where("cell_id = ? AND cycle_no = ?", cellID, cycleNo).Take(&cycle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: KindNotFound, CellID: cellID, CycleNo: cycleNo}
	}
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

// EditCycle corrects an existing cycle. Cell ID and cycle number never change.
func (s *Store) EditCycle(ctx context.Context, cellID string, cycleNo int, changes CycleChanges) (_ *models.Cycle, err error) {
	defer func(start time.Time) { observe("edit_cycle", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return nil, err
	}
	if err := changes.validate(id, cycleNo); err != nil {
		s.logRejection("edit cycle", err, zap.String("cell_id", id), zap.Int("cycle_no", cycleNo))
		return nil, err
	}

	var cycle *models.Cycle
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		found, err := findCycle(tx, id, cycleNo)
		if err != nil {
			return err
		}
		changes.apply(found)
		if changes.RecomputeDerived {
			if err := deriveMetrics(id, found); err != nil {
				return err
			}
		}
		if err := tx.Save(found).Error; err != nil {
			return err
		}
		cycle = found
		return nil
	})
	if err != nil {
		err = classify(err, id)
		s.logRejection("edit cycle", err, zap.String("cell_id", id), zap.Int("cycle_no", cycleNo))
		return nil, err
	}

	s.log.Info("cycle edited",
		zap.String("cell_id", id),
		zap.Int("cycle_no", cycleNo),
		zap.Bool("recomputed", changes.RecomputeDerived))
	return cycle, nil
}

// DeleteCycle removes the latest cycle of a cell. Earlier cycles cannot be
// removed without leaving a gap in the numbering.
func (s *Store) DeleteCycle(ctx context.Context, cellID string, cycleNo int) (err error) {
	defer func(start time.Time) { observe("delete_cycle", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *gorm.DB) error {
		if _, err := findCell(tx, id); err != nil {
			return err
		}
		cycle, err := findCycle(tx, id, cycleNo)
		if err != nil {
			return err
		}
		last, err := maxCycleNo(tx, id)
		if err != nil {
			return err
		}
		if cycleNo != last {
			return &Error{
				Kind:    KindConstraintViolation,
				CellID:  id,
				CycleNo: cycleNo,
				Err:     fmt.Errorf("only the latest cycle (%d) can be removed", last),
			}
		}
		return tx.Delete(cycle).Error
	})
	if err != nil {
		err = classify(err, id)
		s.logRejection("delete cycle", err, zap.String("cell_id", id), zap.Int("cycle_no", cycleNo))
		return err
	}

	s.log.Info("cycle deleted", zap.String("cell_id", id), zap.Int("cycle_no", cycleNo))
	return nil
}

// GetCellHistory reads a cell and all of its cycles in one transaction
func (s *Store) GetCellHistory(ctx context.Context, cellID string) (_ *Snapshot, err error) {
	defer func(start time.Time) { observe("get_cell_history", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		cell, err := findCell(tx, id)
		if err != nil {
			return err
		}
		snap.Cell = *cell
		return tx.Where("cell_id = ?", id).Order("cycle_no").Find(&snap.Cycles).Error
	})
	if err != nil {
		return nil, classify(err, id)
	}
	return &snap, nil
}
