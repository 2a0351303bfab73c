package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/parser"
)

// PhotoLoader returns the bytes of a stored photo
type PhotoLoader func(ctx context.Context, key string) ([]byte, error)

// BlobPhotos loads photos from a blob store
func BlobPhotos(store blob.Store) PhotoLoader {
	return func(ctx context.Context, key string) ([]byte, error) {
		data, _, err := blob.ReadAll(ctx, store, key)
		return data, err
	}
}

const (
	photoW = 60.0 // mm
	photoH = 45.0
)

// WritePDF writes a one-document summary: header, metadata, start photo and one line per cycle
func WritePDF(ctx context.Context, w io.Writer, snap *db.Snapshot, photos PhotoLoader) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(fmt.Sprintf("Zn-Br Battery Report: %s", snap.Cell.CellID), true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	cell := snap.Cell
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("Zn–Br Battery Report: %s", cell.CellID)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	if !drawPhoto(ctx, pdf, photos, cell.StartPhoto, 15) {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, "No start photo available.", "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	pdf.SetFont("Helvetica", "", 11)
	meta := []struct{ label, value string }{
		{"Chemistry", cell.Chemistry},
		{"Status", string(cell.Status)},
		{"Channel", cell.ChannelLabel()},
		{"Rated capacity", fmt.Sprintf("%.0f mAh", cell.RatedCapacity)},
		{"Configuration", cell.Configuration},
		{"Assembly date", parser.FormatDate(cell.AssemblyDate)},
		{"Electrolyte", fmt.Sprintf("%.2f M ZnBr2, %.2f M TEACl", cell.ZnBrMolarity, cell.TEAClMolarity)},
		{"Notes", cell.Notes},
	}
	for _, m := range meta {
		if strings.TrimSpace(m.value) == "" {
			continue
		}
		pdf.CellFormat(40, 6, m.label+":", "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, tr(m.value), "", "L", false)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Cycle Data", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	if len(snap.Cycles) == 0 {
		pdf.CellFormat(0, 6, "No cycles logged.", "", 1, "L", false, 0, "")
	}
	for _, c := range snap.Cycles {
		line := fmt.Sprintf("Cycle %d | CE%%: %.2f | dV: %.3f V | %.0f mAh", c.CycleNo, c.CEPct, c.DeltaV, c.CapacityMAh)
		if c.PH != nil {
			line += fmt.Sprintf(" | pH %.1f", *c.PH)
		}
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
		if c.Observation != "" {
			pdf.SetX(20)
			pdf.MultiCell(0, 5, tr(c.Observation), "", "L", false)
		}
		drawPhoto(ctx, pdf, photos, c.PhotoKey, 20)
		pdf.Ln(2)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// drawPhoto embeds a JPEG or PNG blob. It reports false when nothing was drawn.
// Unreadable images are skipped so one bad upload does not break the report.
func drawPhoto(ctx context.Context, pdf *fpdf.Fpdf, photos PhotoLoader, key string, x float64) bool {
	if key == "" || photos == nil {
		return false
	}
	data, err := photos(ctx, key)
	if err != nil {
		return false
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	var imageType string
	switch format {
	case "jpeg":
		imageType = "JPG"
	case "png":
		imageType = "PNG"
	default:
		return false
	}

	opts := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(key, opts, bytes.NewReader(data))
	if pdf.Err() {
		// fpdf errors are sticky; nothing sensible can follow
		return false
	}

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+photoH > pageH-bottom {
		pdf.AddPage()
	}
	y := pdf.GetY()
	pdf.ImageOptions(key, x, y, photoW, photoH, false, opts, 0, "")
	pdf.SetY(y + photoH + 4)
	return true
}
