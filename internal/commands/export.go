package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/celltrack/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export [cell-id]",
	Short: "Export a cell report as Excel or PDF",
	Long: `Write a report with the cell metadata and every logged cycle.

The format comes from --format or, failing that, from the output file extension.

Examples:
  celltrack export ZB-042                  # ZB-042_report.xlsx
  celltrack export ZB-042 --format pdf
  celltrack export ZB-042 -o ~/reports/zb042.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(runExport),
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	snap, err := store.GetCellHistory(ctx, args[0])
	if err != nil {
		return err
	}

	format, output, err = exportTarget(snap.Cell.CellID, format, output)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	switch format {
	case "pdf":
		err = report.WritePDF(ctx, f, snap, report.BlobPhotos(blobs))
	default:
		err = report.WriteExcel(f, snap)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Printf("📄 Exported %d cycle(s) of %s to %s\n", len(snap.Cycles), snap.Cell.CellID, output)
	return nil
}

// exportTarget settles the report format and file name
func exportTarget(cellID, format, output string) (string, string, error) {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" && output != "" {
		format = strings.ToLower(strings.TrimPrefix(filepath.Ext(output), "."))
	}
	switch format {
	case "", "xlsx", "excel":
		format = "xlsx"
	case "pdf":
	default:
		return "", "", fmt.Errorf("unsupported format %q (use xlsx or pdf)", format)
	}
	if output == "" {
		output = fmt.Sprintf("%s_report.%s", cellID, format)
	}
	return format, output, nil
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "Report format: xlsx or pdf")
	exportCmd.Flags().StringP("output", "o", "", "Output file")
}
