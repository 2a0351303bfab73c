package db

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
)

// DefaultChemistry is recorded when a cell is started without one
const DefaultChemistry = "Zn–Br"

// StartCellRequest holds the data needed to put a cell on a channel
type StartCellRequest struct {
	CellID        string
	Channel       int
	Chemistry     string
	RatedCapacity float64 // mAh
	Configuration string
	AssemblyDate  *time.Time
	Notes         string
	ZnBrMolarity  float64
	TEAClMolarity float64
	StartPhoto    string // blob key
}

// ChannelSlot is one row of the occupancy table. Cell is nil when the channel is free.
type ChannelSlot struct {
	Channel int          `json:"channel"`
	Cell    *models.Cell `json:"cell"`
}

// Free reports whether no running cell holds the channel
func (s ChannelSlot) Free() bool {
	return s.Cell == nil
}

// Occupancy lists channels 1..N in order
type Occupancy []ChannelSlot

// Running returns the number of occupied channels
func (o Occupancy) Running() int {
	n := 0
	for _, slot := range o {
		if !slot.Free() {
			n++
		}
	}
	return n
}

// CellFilter narrows ListCells
type CellFilter struct {
	Status models.CellStatus // empty means all
	Search string            // substring of cell ID or channel number
}

// CellSummary is a cell with its cycle count
type CellSummary struct {
	models.Cell
	CycleCount int64 `json:"cycle_count"`
}

func normalizeID(cellID string) (string, error) {
	id, err := parser.NormalizeCellID(cellID)
	if err != nil {
		return "", &Error{Kind: KindInvalidCellID, CellID: cellID, Err: err}
	}
	return id, nil
}

// findCell loads a cell by its user-assigned ID inside tx
func findCell(tx *gorm.DB, cellID string) (*models.Cell, error) {
	var cell models.Cell
	err := tx.Where("cell_id = ?", cellID).Take(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: KindNotFound, CellID: cellID}
	}
	if err != nil {
		return nil, err
	}
	return &cell, nil
}

// StartCell registers a new cell as running on a channel
func (s *Store) StartCell(ctx context.Context, req StartCellRequest) (_ *models.Cell, err error) {
	defer func(start time.Time) { observe("start_cell", start, err) }(time.Now())

	cellID, err := normalizeID(req.CellID)
	if err != nil {
		return nil, err
	}
	if req.Channel < 1 || req.Channel > s.channels {
		err = &Error{Kind: KindInvalidChannel, CellID: cellID, Channel: req.Channel}
		s.logRejection("start", err, zap.String("cell_id", cellID), zap.Int("channel", req.Channel))
		return nil, err
	}

	chemistry := strings.TrimSpace(req.Chemistry)
	if chemistry == "" {
		chemistry = DefaultChemistry
	}
	channel := req.Channel
	cell := models.Cell{
		CellID:        cellID,
		Chemistry:     chemistry,
		RatedCapacity: req.RatedCapacity,
		Configuration: req.Configuration,
		AssemblyDate:  req.AssemblyDate,
		Notes:         req.Notes,
		ZnBrMolarity:  req.ZnBrMolarity,
		TEAClMolarity: req.TEAClMolarity,
		StartPhoto:    req.StartPhoto,
		Channel:       &channel,
		Status:        models.StatusRunning,
	}

	err = s.withTx(ctx, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Cell{}).Where("cell_id = ?", cellID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return &Error{Kind: KindDuplicateCellID, CellID: cellID}
		}

		var occupants []models.Cell
		if err := tx.Where("channel = ? AND status = ?", channel, models.StatusRunning).
			Limit(1).Find(&occupants).Error; err != nil {
			return err
		}
		if len(occupants) > 0 {
			return &Error{Kind: KindChannelBusy, CellID: occupants[0].CellID, Channel: channel}
		}

		return tx.Create(&cell).Error
	})
	if err != nil {
		err = classify(err, cellID)
		s.logRejection("start", err, zap.String("cell_id", cellID), zap.Int("channel", channel))
		return nil, err
	}

	s.log.Info("cell started", zap.String("cell_id", cellID), zap.Int("channel", channel))
	return &cell, nil
}

// StopCell marks a running cell stopped, freeing its channel. Stopping a stopped cell is a no-op.
func (s *Store) StopCell(ctx context.Context, cellID string) (_ *models.Cell, err error) {
	defer func(start time.Time) { observe("stop_cell", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return nil, err
	}

	var cell *models.Cell
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		found, err := findCell(tx, id)
		if err != nil {
			return err
		}
		cell = found
		if !cell.IsRunning() {
			return nil
		}

		now := time.Now()
		if err := tx.Model(cell).Updates(map[string]interface{}{
			"status":     models.StatusStopped,
			"stopped_at": now,
		}).Error; err != nil {
			return err
		}
		cell.Status = models.StatusStopped
		cell.StoppedAt = &now
		return nil
	})
	if err != nil {
		err = classify(err, id)
		s.logRejection("stop", err, zap.String("cell_id", id))
		return nil, err
	}

	s.log.Info("cell stopped", zap.String("cell_id", id), zap.String("channel", cell.ChannelLabel()))
	return cell, nil
}

// ListOccupancy returns exactly N slots ordered by channel
func (s *Store) ListOccupancy(ctx context.Context) (_ Occupancy, err error) {
	defer func(start time.Time) { observe("list_occupancy", start, err) }(time.Now())

	var running []models.Cell
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("status = ?", models.StatusRunning).Find(&running).Error
	})
	if err != nil {
		return nil, classify(err, "")
	}

	occupancy := make(Occupancy, s.channels)
	for i := range occupancy {
		occupancy[i].Channel = i + 1
	}
	for i := range running {
		cell := running[i]
		if cell.Channel == nil || *cell.Channel < 1 || *cell.Channel > s.channels {
			s.log.Warn("running cell outside configured channels",
				zap.String("cell_id", cell.CellID), zap.String("channel", cell.ChannelLabel()))
			continue
		}
		occupancy[*cell.Channel-1].Cell = &cell
	}

	runningCells.Set(float64(occupancy.Running()))
	return occupancy, nil
}

// GetCell returns one cell by ID
func (s *Store) GetCell(ctx context.Context, cellID string) (_ *models.Cell, err error) {
	defer func(start time.Time) { observe("get_cell", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return nil, err
	}

	var cell *models.Cell
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		found, err := findCell(tx, id)
		cell = found
		return err
	})
	if err != nil {
		return nil, classify(err, id)
	}
	return cell, nil
}

// ListCells returns cells ordered by ID with their cycle counts
func (s *Store) ListCells(ctx context.Context, filter CellFilter) (_ []CellSummary, err error) {
	defer func(start time.Time) { observe("list_cells", start, err) }(time.Now())

	var cells []models.Cell
	counts := make(map[string]int64)
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		q := tx.Order("cell_id")
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if err := q.Find(&cells).Error; err != nil {
			return err
		}

		var rows []struct {
			CellID string
			Count  int64
		}
		if err := tx.Model(&models.Cycle{}).
			Select("cell_id, COUNT(*) AS count").
			Group("cell_id").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			counts[r.CellID] = r.Count
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "")
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	summaries := make([]CellSummary, 0, len(cells))
	for _, c := range cells {
		if search != "" && !matchesSearch(c, search) {
			continue
		}
		summaries = append(summaries, CellSummary{Cell: c, CycleCount: counts[c.CellID]})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CellID < summaries[j].CellID
	})
	return summaries, nil
}

func matchesSearch(c models.Cell, search string) bool {
	if strings.Contains(strings.ToLower(c.CellID), search) {
		return true
	}
	return c.Channel != nil && strings.Contains(strconv.Itoa(*c.Channel), search)
}

// DeleteCell removes a cell together with all of its cycles
func (s *Store) DeleteCell(ctx context.Context, cellID string) (err error) {
	defer func(start time.Time) { observe("delete_cell", start, err) }(time.Now())

	id, err := normalizeID(cellID)
	if err != nil {
		return err
	}

	var removed int64
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		cell, err := findCell(tx, id)
		if err != nil {
			return err
		}
		res := tx.Where("cell_id = ?", id).Delete(&models.Cycle{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Delete(cell).Error
	})
	if err != nil {
		err = classify(err, id)
		s.logRejection("delete cell", err, zap.String("cell_id", id))
		return err
	}

	s.log.Info("cell deleted", zap.String("cell_id", id), zap.Int64("cycles", removed))
	return nil
}
