// Package cmd implements CLI commands.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coopad.dev/coopad/internal/daemon"
)

// hostCmd runs the host daemon in the foreground.
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the coopad host in foreground",
	Long: `Run the coopad host process in foreground.

The host will:
  1. Load configuration and initialize logging
  2. Bind the UDP socket and start the session orchestrator
  3. Start the control socket for operator commands
  4. Start the Prometheus endpoint (if enabled)
  5. Handle SIGTERM/SIGINT for graceful shutdown and SIGHUP for reload`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runHost(); err != nil {
			logrus.WithError(err).Error("host failed")
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	hostCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (empty: no PID file)")
}

func runHost() error {
	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	return d.Run()
}
