package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var helpCmd = &cobra.Command{
	Use:   "help [command]",
	Short: "Show comprehensive help for celltrack",
	Long:  `Display detailed help for all celltrack commands and flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 0 {
			if sub, _, err := rootCmd.Find(args); err == nil && sub != rootCmd {
				_ = sub.Help()
				return
			}
		}
		showCustomHelp()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("celltrack %s (commit %s, built %s)\n", version, commit, date)
	},
}

func showCustomHelp() {
	fmt.Print(`
celltrack - Zn–Br cell and cycle tracker

COMMANDS:

  dash                    Interactive channel dashboard
    Quick actions:
      ↑/↓           Navigate channels
      l             Log a cycle for the selected cell
      s             Stop the selected cell
      r             Refresh
      esc/q         Quit

  start <cell-id>         Put a new cell on a channel
    -c, --channel         Channel number (required)
    --chemistry           Chemistry (default Zn–Br)
    --rated               Rated capacity in mAh
    --config-desc         Configuration, e.g. "2x2 cm"
    --assembled           Assembly date (dd/mm/yyyy, yesterday, 3 days ago)
    --znbr, --teacl       Electrolyte molarities
    --notes               Free-text notes
    --photo               Start photo

  stop <cell-id>          Stop a cell and free its channel

  ls                      List cells
    -s, --status          running|stopped|all
    --search              Match cell ID or channel
    --json                JSON output

  show <cell-id>          Cell details and cycle history
    --json                JSON output
    --md                  Render as markdown
  next <cell-id>          Next cycle number

  log <cell-id> [readings]
                          Record the next cycle (form opens without readings)
    --attach              Data file to attach
    --photo               Photo to attach
    --no-ui               Never open the form

    Smart syntax:
      qc=2.0 qd=1.8   Charge/discharge capacity in Ah (or 2000mAh)
      vc=1.8 vd=1.2   Max charge/min discharge voltage in V (or mV)
      j=20            Current density in mA/cm²
      ph=3.1          Electrolyte pH (optional)

    Example:
      celltrack log ZB-042 qc=2.0 qd=1.8 vc=1.8 vd=1.2 j=20 even plating

  edit <cell-id> <no> [readings]
                          Correct a cycle (--recompute refreshes CE% and ΔV)
  rm-cycle <cell-id> <no> Remove the latest cycle
  rm <cell-id>            Delete a cell with its cycles and attachments
    --force               Also delete a running cell

  export <cell-id>        Write an Excel or PDF report
    -f, --format          xlsx|pdf
    -o, --output          Output file

  serve                   Run the JSON API
    --addr                Listen address
    --max-conns           Concurrent connection cap

  version                 Print version
  help                    Show this help

GLOBAL FLAGS:
  --config                Config file (default ~/.celltrack/config.yaml)
  -v, --verbose           Debug logging

`)
}
