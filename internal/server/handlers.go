package server

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
	"github.com/balkashynov/celltrack/internal/parser"
	"github.com/balkashynov/celltrack/internal/report"
)

type startCellBody struct {
	CellID        string  `json:"cell_id"`
	Channel       int     `json:"channel"`
	Chemistry     string  `json:"chemistry"`
	RatedCapacity float64 `json:"rated_capacity"`
	Configuration string  `json:"configuration"`
	AssemblyDate  string  `json:"assembly_date"` // dd/mm/yyyy, yyyy-mm-dd, "3 days ago", ...
	Notes         string  `json:"notes"`
	ZnBrMolarity  float64 `json:"znbr_molarity"`
	TEAClMolarity float64 `json:"teacl_molarity"`
}

type logCycleBody struct {
	CurrentDensity    float64  `json:"current_density"`
	ChargeCapacity    float64  `json:"charge_capacity"`
	DischargeCapacity float64  `json:"discharge_capacity"`
	ChargeVoltage     float64  `json:"charge_voltage"`
	DischargeVoltage  float64  `json:"discharge_voltage"`
	PH                *float64 `json:"ph"`
	Observation       string   `json:"observation"`
}

type editCycleBody struct {
	CellID            *string  `json:"cell_id"`
	CycleNo           *int     `json:"cycle_no"`
	CurrentDensity    *float64 `json:"current_density"`
	ChargeCapacity    *float64 `json:"charge_capacity"`
	DischargeCapacity *float64 `json:"discharge_capacity"`
	ChargeVoltage     *float64 `json:"charge_voltage"`
	DischargeVoltage  *float64 `json:"discharge_voltage"`
	PH                *float64 `json:"ph"`
	Observation       *string  `json:"observation"`
	RecomputeDerived  bool     `json:"recompute_derived"`
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := ws.store.Ping(r.Context()); err != nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"channels": ws.store.Channels(),
		"uptime":   time.Since(ws.startTime).Round(time.Second).String(),
	})
}

func (ws *WebServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	occ, err := ws.store.ListOccupancy(r.Context())
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

func (ws *WebServer) handleListCells(w http.ResponseWriter, r *http.Request) {
	filter := db.CellFilter{Search: r.URL.Query().Get("q")}
	switch status := r.URL.Query().Get("status"); status {
	case "", "all":
	case string(models.StatusRunning), string(models.StatusStopped):
		filter.Status = models.CellStatus(status)
	default:
		jsonError(w, "BAD_REQUEST", "status must be running, stopped or all", http.StatusBadRequest)
		return
	}

	cells, err := ws.store.ListCells(r.Context(), filter)
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cells)
}

func (ws *WebServer) handleStartCell(w http.ResponseWriter, r *http.Request) {
	var body startCellBody
	if !decodeBody(w, r, &body) {
		return
	}
	assembly, err := parser.ParseAssemblyDate(body.AssemblyDate)
	if err != nil {
		jsonError(w, "BAD_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}

	cell, err := ws.store.StartCell(r.Context(), db.StartCellRequest{
		CellID:        body.CellID,
		Channel:       body.Channel,
		Chemistry:     body.Chemistry,
		RatedCapacity: body.RatedCapacity,
		Configuration: body.Configuration,
		AssemblyDate:  assembly,
		Notes:         body.Notes,
		ZnBrMolarity:  body.ZnBrMolarity,
		TEAClMolarity: body.TEAClMolarity,
	})
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cell)
}

func (ws *WebServer) handleGetCell(w http.ResponseWriter, r *http.Request) {
	snap, err := ws.store.GetCellHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (ws *WebServer) handleDeleteCell(w http.ResponseWriter, r *http.Request) {
	// Blob keys use the stored cell ID, not the raw path value
	cell, err := ws.store.GetCell(r.Context(), r.PathValue("id"))
	if err != nil {
		ws.storeError(w, err)
		return
	}
	if err := ws.store.DeleteCell(r.Context(), cell.CellID); err != nil {
		ws.storeError(w, err)
		return
	}
	if ws.blobs != nil {
		if _, err := blob.DeleteCell(r.Context(), ws.blobs, cell.CellID); err != nil {
			ws.log.Warn("failed to remove cell attachments", zap.String("cell_id", cell.CellID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleStopCell(w http.ResponseWriter, r *http.Request) {
	cell, err := ws.store.StopCell(r.Context(), r.PathValue("id"))
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func (ws *WebServer) handleNextCycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	next, err := ws.store.NextCycleNumber(r.Context(), id)
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cell_id": id, "next_cycle_no": next})
}

func (ws *WebServer) handleLogCycle(w http.ResponseWriter, r *http.Request) {
	var body logCycleBody
	if !decodeBody(w, r, &body) {
		return
	}
	cycle, err := ws.store.LogCycle(r.Context(), r.PathValue("id"), db.Measurements{
		CurrentDensity:    body.CurrentDensity,
		ChargeCapacity:    body.ChargeCapacity,
		DischargeCapacity: body.DischargeCapacity,
		ChargeVoltage:     body.ChargeVoltage,
		DischargeVoltage:  body.DischargeVoltage,
		PH:                body.PH,
		Observation:       body.Observation,
	})
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

func cycleNo(w http.ResponseWriter, r *http.Request) (int, bool) {
	no, err := strconv.Atoi(r.PathValue("no"))
	if err != nil || no < 1 {
		jsonError(w, "BAD_REQUEST", "cycle number must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return no, true
}

func (ws *WebServer) handleEditCycle(w http.ResponseWriter, r *http.Request) {
	no, ok := cycleNo(w, r)
	if !ok {
		return
	}
	var body editCycleBody
	if !decodeBody(w, r, &body) {
		return
	}
	cycle, err := ws.store.EditCycle(r.Context(), r.PathValue("id"), no, db.CycleChanges{
		CellID:            body.CellID,
		CycleNo:           body.CycleNo,
		CurrentDensity:    body.CurrentDensity,
		ChargeCapacity:    body.ChargeCapacity,
		DischargeCapacity: body.DischargeCapacity,
		ChargeVoltage:     body.ChargeVoltage,
		DischargeVoltage:  body.DischargeVoltage,
		PH:                body.PH,
		Observation:       body.Observation,
		RecomputeDerived:  body.RecomputeDerived,
	})
	if err != nil {
		ws.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (ws *WebServer) handleDeleteCycle(w http.ResponseWriter, r *http.Request) {
	no, ok := cycleNo(w, r)
	if !ok {
		return
	}
	if err := ws.store.DeleteCycle(r.Context(), r.PathValue("id"), no); err != nil {
		ws.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleExcelReport(w http.ResponseWriter, r *http.Request) {
	snap, err := ws.store.GetCellHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		ws.storeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteExcel(&buf, snap); err != nil {
		ws.storeError(w, err)
		return
	}
	sendFile(w, &buf, snap.Cell.CellID+".xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
}

func (ws *WebServer) handlePDFReport(w http.ResponseWriter, r *http.Request) {
	snap, err := ws.store.GetCellHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		ws.storeError(w, err)
		return
	}
	var photos report.PhotoLoader
	if ws.blobs != nil {
		photos = report.BlobPhotos(ws.blobs)
	}
	var buf bytes.Buffer
	if err := report.WritePDF(r.Context(), &buf, snap, photos); err != nil {
		ws.storeError(w, err)
		return
	}
	sendFile(w, &buf, snap.Cell.CellID+".pdf", "application/pdf")
}

func sendFile(w http.ResponseWriter, buf *bytes.Buffer, name, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
