package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/config"
	"github.com/balkashynov/celltrack/internal/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T) *WebServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Lab.Channels = 4
	cfg.Database.Path = filepath.Join(t.TempDir(), "celltrack.db")

	store, err := db.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewWebServer("127.0.0.1:0", store, blob.NewMemory(), zaptest.NewLogger(t))
}

func do(t *testing.T, ws *WebServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func validCycle() map[string]interface{} {
	return map[string]interface{}{
		"current_density":    20,
		"charge_capacity":    2.0,
		"discharge_capacity": 1.8,
		"charge_voltage":     1.8,
		"discharge_voltage":  1.2,
	}
}

func TestChannelLifecycle(t *testing.T) {
	ws := newTestServer(t)

	rec := do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-02", "channel": 3})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "CHANNEL_BUSY", resp.Code)
	require.NotNil(t, resp.Detail)
	assert.Equal(t, "S-01", resp.Detail.CellID)
	assert.Equal(t, 3, resp.Detail.Channel)

	rec = do(t, ws, http.MethodGet, "/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var occ []db.ChannelSlot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &occ))
	require.Len(t, occ, 4)
	assert.Nil(t, occ[0].Cell)
	require.NotNil(t, occ[2].Cell)
	assert.Equal(t, "S-01", occ[2].Cell.CellID)

	rec = do(t, ws, http.MethodPost, "/cells/S-01/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-02", "channel": 3})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStartCellValidation(t *testing.T) {
	ws := newTestServer(t)

	rec := do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CHANNEL", decodeError(t, rec).Code)

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1, "assembly_date": "someday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1, "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1, "assembly_date": "2 days ago"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_CELL_ID", decodeError(t, rec).Code)
}

func TestCycleEndpoints(t *testing.T) {
	ws := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1}).Code)

	rec := do(t, ws, http.MethodGet, "/cells/S-01/cycles/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"next_cycle_no":1`)

	for i := 0; i < 3; i++ {
		rec = do(t, ws, http.MethodPost, "/cells/S-01/cycles", validCycle())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	bad := validCycle()
	bad["charge_capacity"] = 0
	rec = do(t, ws, http.MethodPost, "/cells/S-01/cycles", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INVALID_MEASUREMENT", resp.Code)
	assert.Equal(t, "charge_capacity", resp.Detail.Field)

	rec = do(t, ws, http.MethodPatch, "/cells/S-01/cycles/2", map[string]interface{}{"observation": "bubbles", "cycle_no": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMMUTABLE_FIELD", decodeError(t, rec).Code)

	rec = do(t, ws, http.MethodPatch, "/cells/S-01/cycles/2", map[string]interface{}{"observation": "bubbles"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"observation":"bubbles"`)

	rec = do(t, ws, http.MethodDelete, "/cells/S-01/cycles/1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, ws, http.MethodDelete, "/cells/S-01/cycles/3", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, ws, http.MethodDelete, "/cells/S-01/cycles/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws, http.MethodGet, "/cells/S-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap db.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Cycles, 2)

	rec = do(t, ws, http.MethodPost, "/cells/S-01/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, ws, http.MethodPost, "/cells/S-01/cycles", validCycle())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_RUNNING", decodeError(t, rec).Code)
}

func TestListAndDeleteCells(t *testing.T) {
	ws := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "A-1", "channel": 1}).Code)
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "B-1", "channel": 2}).Code)
	require.Equal(t, http.StatusOK, do(t, ws, http.MethodPost, "/cells/B-1/stop", nil).Code)

	rec := do(t, ws, http.MethodGet, "/cells?status=running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cells []db.CellSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cells))
	require.Len(t, cells, 1)
	assert.Equal(t, "A-1", cells[0].CellID)

	rec = do(t, ws, http.MethodGet, "/cells?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws, http.MethodDelete, "/cells/B-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, ws, http.MethodGet, "/cells/B-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestDeleteCellRemovesAttachments(t *testing.T) {
	ws := newTestServer(t)
	ctx := context.Background()
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1}).Code)

	_, err := blob.SaveAttachment(ctx, ws.blobs, "S-01", "start.png", strings.NewReader("png"))
	require.NoError(t, err)
	_, err = blob.SaveAttachment(ctx, ws.blobs, "S-01", "cycle1.csv", strings.NewReader("t,v"))
	require.NoError(t, err)

	// padded ID resolves to the stored one
	rec := do(t, ws, http.MethodDelete, "/cells/%20S-01%20", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	infos, err := ws.blobs.List(ctx, blob.CellPrefix("S-01"))
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Equal(t, http.StatusNotFound, do(t, ws, http.MethodGet, "/cells/S-01", nil).Code)

	rec = do(t, ws, http.MethodDelete, "/cells/S-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	ws := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells", map[string]interface{}{"cell_id": "S-01", "channel": 1}).Code)
	require.Equal(t, http.StatusCreated, do(t, ws, http.MethodPost, "/cells/S-01/cycles", validCycle()).Code)

	rec := do(t, ws, http.MethodGet, "/cells/S-01/report.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "S-01.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = do(t, ws, http.MethodGet, "/cells/S-01/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))

	rec = do(t, ws, http.MethodGet, "/cells/ghost/report.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ws := newTestServer(t)

	rec := do(t, ws, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"channels":4`)

	do(t, ws, http.MethodGet, "/channels", nil)
	rec = do(t, ws, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "celltrack_store_operations_total")
}

func TestServeAndShutdown(t *testing.T) {
	ws := newTestServer(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ws.Serve(l) }()

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Shutdown(ctx))
	assert.NoError(t, <-done)
}
