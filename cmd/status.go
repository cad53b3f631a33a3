package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coopad.dev/coopad/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host status",
	Long: `Query the running coopad host for its status.

Shows: listen address, mode, slot capacity, live session count, uptime.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.HostStatus(context.Background())
		if err != nil {
			exitWithError("failed to query status", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("host_status failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

// printJSON pretty-prints a command result.
func printJSON(result interface{}) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}
	fmt.Println(string(out))
}
