package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
)

var startCmd = &cobra.Command{
	Use:   "start [cell-id]",
	Short: "Put a new cell on a cycler channel",
	Long: `Register a new cell and mark it running on a channel.

The channel must be free and the cell ID must never have been used before.

Examples:
  celltrack start ZB-042 --channel 3
  celltrack start ZB-043 -c 4 --rated 25 --config-desc "2x2 cm" --assembled yesterday
  celltrack start ZB-044 -c 5 --znbr 2.0 --teacl 0.5 --photo ./zb044.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(runStart),
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cellID, err := parser.NormalizeCellID(args[0])
	if err != nil {
		return err
	}

	channel, _ := cmd.Flags().GetInt("channel")
	chemistry, _ := cmd.Flags().GetString("chemistry")
	rated, _ := cmd.Flags().GetFloat64("rated")
	configuration, _ := cmd.Flags().GetString("config-desc")
	notes, _ := cmd.Flags().GetString("notes")
	znbr, _ := cmd.Flags().GetFloat64("znbr")
	teacl, _ := cmd.Flags().GetFloat64("teacl")
	assembled, _ := cmd.Flags().GetString("assembled")
	photo, _ := cmd.Flags().GetString("photo")

	assemblyDate, err := parser.ParseAssemblyDate(assembled)
	if err != nil {
		return fmt.Errorf("invalid assembly date: %w", err)
	}

	var photoKey string
	if photo != "" {
		photoKey, err = blob.SaveFile(ctx, blobs, cellID, photo)
		if err != nil {
			return fmt.Errorf("failed to store photo: %w", err)
		}
	}

	cell, err := store.StartCell(ctx, db.StartCellRequest{
		CellID:        cellID,
		Channel:       channel,
		Chemistry:     chemistry,
		RatedCapacity: rated,
		Configuration: configuration,
		AssemblyDate:  assemblyDate,
		Notes:         notes,
		ZnBrMolarity:  znbr,
		TEAClMolarity: teacl,
		StartPhoto:    photoKey,
	})
	if err != nil {
		if photoKey != "" {
			if _, derr := blobs.Delete(ctx, photoKey); derr != nil {
				logger.Warn("failed to remove orphaned photo", zap.String("key", photoKey), zap.Error(derr))
			}
		}
		return err
	}

	fmt.Printf("🔋 Started cell %s on channel %s\n", cell.CellID, cell.ChannelLabel())
	fmt.Printf("  Chemistry: %s\n", cell.Chemistry)
	if cell.AssemblyDate != nil {
		fmt.Printf("  Assembled: %s\n", parser.FormatDate(cell.AssemblyDate))
	}
	if cell.StartPhoto != "" {
		fmt.Printf("  Photo: %s\n", cell.StartPhoto)
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop [cell-id]",
	Short: "Stop a running cell and free its channel",
	Long: `Mark a cell stopped. Its channel becomes free immediately.
Stopping a cell that is already stopped does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		cell, err := store.StopCell(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("⏹️  Stopped cell %s (channel %s is free)\n", cell.CellID, cell.ChannelLabel())
		if cell.StoppedAt != nil {
			fmt.Printf("Stopped at: %s\n", cell.StoppedAt.Format("02/01/2006 15:04"))
		}
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cells",
	Long: `List cells with their channel, status and cycle count.

Examples:
  celltrack ls
  celltrack ls --status running
  celltrack ls --search zb-04
  celltrack ls --json`,
	Args: cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		search, _ := cmd.Flags().GetString("search")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		filter, err := cellFilter(status, search)
		if err != nil {
			return err
		}
		cells, err := store.ListCells(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cells)
		}
		if len(cells) == 0 {
			fmt.Println("No cells found. Use 'celltrack start <cell-id> --channel N' to add one.")
			return nil
		}
		printCellTable(cells)
		return nil
	}),
}

// cellFilter maps the --status flag onto a store filter
func cellFilter(status, search string) (db.CellFilter, error) {
	filter := db.CellFilter{Search: search}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "all":
	case "running":
		filter.Status = models.StatusRunning
	case "stopped":
		filter.Status = models.StatusStopped
	default:
		return filter, fmt.Errorf("invalid status %q (use running, stopped or all)", status)
	}
	return filter, nil
}

func printCellTable(cells []db.CellSummary) {
	fmt.Printf("%-20s %-8s %-8s %-7s %-10s %s\n", "CELL", "CHANNEL", "STATUS", "CYCLES", "STARTED", "CHEMISTRY")
	fmt.Println(strings.Repeat("-", 72))
	for _, c := range cells {
		id := c.CellID
		if len(id) > 19 {
			id = id[:16] + "..."
		}
		fmt.Printf("%-20s %-8s %-8s %-7d %-10s %s\n",
			id,
			c.ChannelLabel(),
			c.Status,
			c.CycleCount,
			c.CreatedAt.Format("02/01/06"),
			c.Chemistry)
	}
}

var showCmd = &cobra.Command{
	Use:   "show [cell-id]",
	Short: "Show a cell and its cycle history",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		snap, err := store.GetCellHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(snap)
		}
		if md, _ := cmd.Flags().GetBool("md"); md {
			return printMarkdown(snapshotMarkdown(snap))
		}
		printSnapshot(snap)
		return nil
	}),
}

// printMarkdown renders md for the terminal, falling back to the raw text
func printMarkdown(md string) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

var mdCellEscaper = strings.NewReplacer("|", "\\|", "\n", " ")

// snapshotMarkdown writes a cell and its cycles as a markdown document
func snapshotMarkdown(snap *db.Snapshot) string {
	cell := snap.Cell
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cell.CellID)
	fmt.Fprintf(&b, "- **Status:** %s (channel %s)\n", cell.Status, cell.ChannelLabel())
	fmt.Fprintf(&b, "- **Chemistry:** %s\n", cell.Chemistry)
	fmt.Fprintf(&b, "- **Started:** %s\n", cell.CreatedAt.Format("02/01/2006 15:04"))
	if cell.StoppedAt != nil {
		fmt.Fprintf(&b, "- **Stopped:** %s\n", cell.StoppedAt.Format("02/01/2006 15:04"))
	}
	if cell.RatedCapacity > 0 {
		fmt.Fprintf(&b, "- **Rated capacity:** %.0f mAh\n", cell.RatedCapacity)
	}
	if cell.Configuration != "" {
		fmt.Fprintf(&b, "- **Configuration:** %s\n", cell.Configuration)
	}
	if cell.AssemblyDate != nil {
		fmt.Fprintf(&b, "- **Assembled:** %s\n", parser.FormatDate(cell.AssemblyDate))
	}
	if cell.ZnBrMolarity > 0 || cell.TEAClMolarity > 0 {
		fmt.Fprintf(&b, "- **Electrolyte:** %.2f M ZnBr₂, %.2f M TEACl\n", cell.ZnBrMolarity, cell.TEAClMolarity)
	}
	if cell.Notes != "" {
		fmt.Fprintf(&b, "\n> %s\n", mdCellEscaper.Replace(cell.Notes))
	}

	b.WriteString("\n## Cycles\n\n")
	if len(snap.Cycles) == 0 {
		b.WriteString("_No cycles logged yet._\n")
		return b.String()
	}
	b.WriteString("| # | J | QC (Ah) | QD (Ah) | VC (V) | VD (V) | CE % | ΔV | Observation |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for _, c := range snap.Cycles {
		fmt.Fprintf(&b, "| %d | %.2f | %.3f | %.3f | %.3f | %.3f | %.2f | %.3f | %s |\n",
			c.CycleNo,
			c.CurrentDensity,
			c.ChargeCapacity,
			c.DischargeCapacity,
			c.ChargeVoltage,
			c.DischargeVoltage,
			c.CEPct,
			c.DeltaV,
			mdCellEscaper.Replace(c.Observation))
	}
	return b.String()
}

func printSnapshot(snap *db.Snapshot) {
	cell := snap.Cell
	fmt.Printf("🔋 %s\n", cell.CellID)
	fmt.Printf("  Status: %s (channel %s)\n", cell.Status, cell.ChannelLabel())
	fmt.Printf("  Chemistry: %s\n", cell.Chemistry)
	fmt.Printf("  Started: %s (%s)\n", cell.CreatedAt.Format("02/01/2006 15:04"), parser.FormatAge(cell.CreatedAt))
	if cell.StoppedAt != nil {
		fmt.Printf("  Stopped: %s\n", cell.StoppedAt.Format("02/01/2006 15:04"))
	}
	if cell.RatedCapacity > 0 {
		fmt.Printf("  Rated capacity: %.0f mAh\n", cell.RatedCapacity)
	}
	if cell.Configuration != "" {
		fmt.Printf("  Configuration: %s\n", cell.Configuration)
	}
	if cell.AssemblyDate != nil {
		fmt.Printf("  Assembled: %s\n", parser.FormatDate(cell.AssemblyDate))
	}
	if cell.ZnBrMolarity > 0 || cell.TEAClMolarity > 0 {
		fmt.Printf("  Electrolyte: %.2f M ZnBr₂, %.2f M TEACl\n", cell.ZnBrMolarity, cell.TEAClMolarity)
	}
	if cell.Notes != "" {
		fmt.Printf("  Notes: %s\n", cell.Notes)
	}
	fmt.Println()

	if len(snap.Cycles) == 0 {
		fmt.Println("No cycles logged yet.")
		return
	}
	fmt.Printf("%-5s %-8s %-8s %-8s %-7s %-7s %-8s %-7s %s\n",
		"#", "J", "QC(Ah)", "QD(Ah)", "VC(V)", "VD(V)", "CE%", "ΔV", "OBSERVATION")
	fmt.Println(strings.Repeat("-", 80))
	for _, c := range snap.Cycles {
		fmt.Printf("%-5d %-8.2f %-8.3f %-8.3f %-7.3f %-7.3f %-8.2f %-7.3f %s\n",
			c.CycleNo,
			c.CurrentDensity,
			c.ChargeCapacity,
			c.DischargeCapacity,
			c.ChargeVoltage,
			c.DischargeVoltage,
			c.CEPct,
			c.DeltaV,
			c.Observation)
	}
}

var rmCmd = &cobra.Command{
	Use:   "rm [cell-id]",
	Short: "Delete a cell, its cycles and its attachments",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		force, _ := cmd.Flags().GetBool("force")

		cell, err := store.GetCell(ctx, args[0])
		if err != nil {
			return err
		}
		if cell.IsRunning() && !force {
			return fmt.Errorf("cell %s is running on channel %s; stop it first or pass --force", cell.CellID, cell.ChannelLabel())
		}

		if err := store.DeleteCell(ctx, cell.CellID); err != nil {
			return err
		}
		removed, err := blob.DeleteCell(ctx, blobs, cell.CellID)
		if err != nil {
			fmt.Printf("⚠️  Cell deleted but attachments could not be removed: %v\n", err)
			return nil
		}

		fmt.Printf("🗑️  Deleted cell %s\n", cell.CellID)
		if removed > 0 {
			fmt.Printf("Removed %d attachment(s)\n", removed)
		}
		return nil
	}),
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	startCmd.Flags().IntP("channel", "c", 0, "Cycler channel (1..N)")
	startCmd.Flags().String("chemistry", "", "Chemistry (default "+db.DefaultChemistry+")")
	startCmd.Flags().Float64("rated", 0, "Rated capacity in mAh")
	startCmd.Flags().String("config-desc", "", "Cell configuration, e.g. \"2x2 cm\"")
	startCmd.Flags().String("assembled", "", "Assembly date: dd/mm/yyyy, yyyy-mm-dd, today, yesterday, N days ago")
	startCmd.Flags().String("notes", "", "Free-text notes")
	startCmd.Flags().Float64("znbr", 0, "ZnBr₂ molarity (mol/L)")
	startCmd.Flags().Float64("teacl", 0, "TEACl molarity (mol/L)")
	startCmd.Flags().String("photo", "", "Start photo to attach")
	_ = startCmd.MarkFlagRequired("channel")

	listCmd.Flags().StringP("status", "s", "", "Filter by status: running, stopped, all")
	listCmd.Flags().String("search", "", "Match cell ID or channel")
	listCmd.Flags().Bool("json", false, "JSON output")

	showCmd.Flags().Bool("json", false, "JSON output")
	showCmd.Flags().Bool("md", false, "Render as markdown")

	rmCmd.Flags().BoolP("force", "f", false, "Delete even if the cell is running")
}
