package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/models"
)

// Store is the part of the core the API needs
type Store interface {
	Channels() int
	Ping(ctx context.Context) error
	StartCell(ctx context.Context, req db.StartCellRequest) (*models.Cell, error)
	StopCell(ctx context.Context, cellID string) (*models.Cell, error)
	ListOccupancy(ctx context.Context) (db.Occupancy, error)
	GetCell(ctx context.Context, cellID string) (*models.Cell, error)
	ListCells(ctx context.Context, filter db.CellFilter) ([]db.CellSummary, error)
	DeleteCell(ctx context.Context, cellID string) error
	NextCycleNumber(ctx context.Context, cellID string) (int, error)
	LogCycle(ctx context.Context, cellID string, m db.Measurements) (*models.Cycle, error)
	EditCycle(ctx context.Context, cellID string, cycleNo int, changes db.CycleChanges) (*models.Cycle, error)
	DeleteCycle(ctx context.Context, cellID string, cycleNo int) error
	GetCellHistory(ctx context.Context, cellID string) (*db.Snapshot, error)
}

// WebServer serves the JSON API
type WebServer struct {
	server    *http.Server
	store     Store
	blobs     blob.Store
	log       *zap.Logger
	startTime time.Time
}

// NewWebServer creates the API server. blobs may be nil; reports then skip photos.
func NewWebServer(addr string, store Store, blobs blob.Store, log *zap.Logger) *WebServer {
	if log == nil {
		log = zap.NewNop()
	}
	ws := &WebServer{
		store:     store,
		blobs:     blobs,
		log:       log.Named("http"),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("GET /healthz", ws.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /channels", ws.handleChannels)
	mux.HandleFunc("GET /cells", ws.handleListCells)
	mux.HandleFunc("POST /cells", ws.handleStartCell)
	mux.HandleFunc("GET /cells/{id}", ws.handleGetCell)
	mux.HandleFunc("DELETE /cells/{id}", ws.handleDeleteCell)
	mux.HandleFunc("POST /cells/{id}/stop", ws.handleStopCell)
	mux.HandleFunc("GET /cells/{id}/cycles/next", ws.handleNextCycle)
	mux.HandleFunc("POST /cells/{id}/cycles", ws.handleLogCycle)
	mux.HandleFunc("PATCH /cells/{id}/cycles/{no}", ws.handleEditCycle)
	mux.HandleFunc("DELETE /cells/{id}/cycles/{no}", ws.handleDeleteCycle)
	mux.HandleFunc("GET /cells/{id}/report.xlsx", ws.handleExcelReport)
	mux.HandleFunc("GET /cells/{id}/report.pdf", ws.handlePDFReport)

	ws.server = &http.Server{
		Addr:              addr,
		Handler:           ws.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Handler exposes the routed handler, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Serve blocks until the server stops. A graceful shutdown returns nil.
func (ws *WebServer) Serve(l net.Listener) error {
	ws.log.Info("starting API server", zap.String("addr", l.Addr().String()), zap.Int("channels", ws.store.Channels()))
	err := ws.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.log.Info("shutting down API server")
	return ws.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (ws *WebServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ws.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
