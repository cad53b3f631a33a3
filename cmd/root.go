// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coopad",
	Short: "CooPad - network gamepad relay for local co-op",
	Long: `CooPad relays gamepad input from remote machines to virtual controllers
on a host, so couch co-op games can be played over a LAN or VPN.

One machine runs the host ("coopad host"); each player runs a sender
("coopad send") pointed at it. The host admits packets through rate
limiting and block lists, assigns each client a player slot, and drives
one virtual controller per session.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/coopad.sock",
		"daemon socket path")

	// Add subcommands
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(securityCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
