package models

import (
	"time"
)

// Cycle represents one charge/discharge measurement record for a cell.
// (cell_id, cycle_no) is unique; cycle numbers are assigned by the store.
type Cycle struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CellID  string `gorm:"not null;uniqueIndex:idx_cycles_cell_cycle_no,priority:1" json:"cell_id"`
	CycleNo int    `gorm:"not null;uniqueIndex:idx_cycles_cell_cycle_no,priority:2" json:"cycle_no"`

	CurrentDensity    float64  `json:"current_density"`    // mA/cm²
	ChargeCapacity    float64  `json:"charge_capacity"`    // Ah
	DischargeCapacity float64  `json:"discharge_capacity"` // Ah
	ChargeVoltage     float64  `json:"charge_voltage"`     // V, max on charge
	DischargeVoltage  float64  `json:"discharge_voltage"`  // V, min on discharge
	CapacityMAh       float64  `json:"capacity_mah"`
	PH                *float64 `json:"ph"`

	// Derived at insert time
	CEPct  float64 `json:"ce_pct"`
	DeltaV float64 `json:"delta_v"`

	Observation   string `json:"observation"`
	AttachmentKey string `json:"attachment_key,omitempty"`
	PhotoKey      string `json:"photo_key,omitempty"`
}
