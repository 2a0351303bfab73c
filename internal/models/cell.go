package models

import (
	"strconv"
	"time"
)

// CellStatus is the allocation state of a cell on the cycler
type CellStatus string

const (
	StatusRunning CellStatus = "running"
	StatusStopped CellStatus = "stopped"
)

// Cell represents one physical experiment instance
type Cell struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CellID        string     `gorm:"uniqueIndex:idx_cells_cell_id;not null" json:"cell_id"`
	Chemistry     string     `json:"chemistry"`
	RatedCapacity float64    `json:"rated_capacity"` // mAh
	Configuration string     `json:"configuration"`
	AssemblyDate  *time.Time `json:"assembly_date"`
	Notes         string     `json:"notes"`
	ZnBrMolarity  float64    `json:"znbr_molarity"`
	TEAClMolarity float64    `json:"teacl_molarity"`
	StartPhoto    string     `json:"start_photo,omitempty"` // blob key

	// Channel stays set after stop so history still shows where the cell ran.
	Channel   *int       `gorm:"index" json:"channel"`
	Status    CellStatus `gorm:"not null;default:running;index" json:"status"`
	StoppedAt *time.Time `json:"stopped_at"`

	// Relationships
	Cycles []Cycle `gorm:"foreignKey:CellID;references:CellID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"cycles,omitempty"`
}

// IsRunning reports whether the cell currently occupies its channel
func (c *Cell) IsRunning() bool {
	return c.Status == StatusRunning
}

// ChannelLabel renders the channel for tables, "—" when unset
func (c *Cell) ChannelLabel() string {
	if c.Channel == nil {
		return "—"
	}
	return strconv.Itoa(*c.Channel)
}
