package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/balkashynov/celltrack/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Start the HTTP API on server.addr (default :8080).

Routes:
  GET    /channels                      channel occupancy
  GET    /cells                         list cells (?status=&search=)
  POST   /cells                         start a cell
  GET    /cells/{id}                    cell with cycle history
  DELETE /cells/{id}                    delete a cell
  POST   /cells/{id}/stop               stop a cell
  GET    /cells/{id}/cycles/next        next cycle number
  POST   /cells/{id}/cycles             log a cycle
  PATCH  /cells/{id}/cycles/{no}        edit a cycle
  DELETE /cells/{id}/cycles/{no}        remove the latest cycle
  GET    /cells/{id}/report.xlsx|.pdf   reports
  GET    /healthz, /metrics`,
	Args: cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		maxConns, _ := cmd.Flags().GetInt("max-conns")
		if !cmd.Flags().Changed("max-conns") {
			maxConns = cfg.Server.MaxConns
		}

		l, err := listen(addr, maxConns)
		if err != nil {
			return err
		}

		// Wait for interrupt signal to gracefully shut down
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		webserver := server.NewWebServer(addr, store, blobs, logger)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return webserver.Serve(l)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
			defer cancel()
			if err := webserver.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", zap.Error(err))
				return err
			}
			return nil
		})
		fmt.Printf("🌐 Serving %d channels on %s\n", store.Channels(), l.Addr())

		return g.Wait()
	}),
}

// listen opens the API listener, capped at maxConns concurrent connections when positive
func listen(addr string, maxConns int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Int("max-conns", 0, "Concurrent connection cap (overrides server.max_conns, 0 = unlimited)")
}
