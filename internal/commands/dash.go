package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/config"
	"github.com/balkashynov/celltrack/internal/tui"
)

var dashCmd = &cobra.Command{
	Use:     "dash",
	Aliases: []string{"dashboard"},
	Short:   "Interactive channel dashboard",
	Long: `Show every cycler channel with the cell running on it.

Select a channel to see the cell details, stop the cell or log its next cycle.
With the sqlite driver the dashboard refreshes as soon as another celltrack
process writes to the database.`,
	Args: cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		var changes <-chan struct{}
		if cfg.Database.Driver == config.DriverSQLite {
			watcher, err := tui.WatchDatabase(cfg.Database.Path)
			if err != nil {
				logger.Warn("database watch unavailable, polling only", zap.Error(err))
			} else {
				defer watcher.Close()
				changes = watcher.Changes()
			}
		}
		return tui.RunDashboard(cmd.Context(), store, changes)
	}),
}
