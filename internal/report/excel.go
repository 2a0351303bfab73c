package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/parser"
)

const (
	cycleSheet = "Cycle Data"
	infoSheet  = "Cell Info"
)

var cycleHeader = []interface{}{
	"Cycle No",
	"Current Density (mA/cm²)",
	"Charge Capacity (Ah)",
	"Discharge Capacity (Ah)",
	"Charge Voltage (V)",
	"Discharge Voltage (V)",
	"ΔV",
	"CE (%)",
	"Capacity (mAh)",
	"pH",
	"Observations",
}

// WriteExcel writes a workbook with the cycle table and the cell metadata
func WriteExcel(w io.Writer, snap *db.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cycleSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := f.SetSheetRow(cycleSheet, "A1", &cycleHeader); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(cycleHeader))
	if err := f.SetCellStyle(cycleSheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(cycleSheet, "A", lastCol, 16); err != nil {
		return err
	}

	for i, c := range snap.Cycles {
		var ph interface{}
		if c.PH != nil {
			ph = *c.PH
		}
		row := []interface{}{
			c.CycleNo,
			c.CurrentDensity,
			c.ChargeCapacity,
			c.DischargeCapacity,
			c.ChargeVoltage,
			c.DischargeVoltage,
			c.DeltaV,
			c.CEPct,
			c.CapacityMAh,
			ph,
			c.Observation,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(cycleSheet, cell, &row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(infoSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}
	cell := snap.Cell
	info := [][]interface{}{
		{"Cell ID", cell.CellID},
		{"Chemistry", cell.Chemistry},
		{"Status", string(cell.Status)},
		{"Channel", cell.ChannelLabel()},
		{"Rated Capacity (mAh)", cell.RatedCapacity},
		{"Configuration", cell.Configuration},
		{"Assembly Date", parser.FormatDate(cell.AssemblyDate)},
		{"ZnBr2 (M)", cell.ZnBrMolarity},
		{"TEACl (M)", cell.TEAClMolarity},
		{"Notes", cell.Notes},
		{"Cycles", len(snap.Cycles)},
	}
	for i, row := range info {
		ref, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(infoSheet, ref, &row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(infoSheet, "A1", fmt.Sprintf("A%d", len(info)), bold); err != nil {
		return err
	}
	if err := f.SetColWidth(infoSheet, "A", "B", 24); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
