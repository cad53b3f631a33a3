package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"coopad.dev/coopad/internal/command"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live player sessions",
	Long: `Query the running coopad host for its player sessions.

Shows per session: client ID, source address, slot, label, packet count,
last-seen time and telemetry.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.ListSessions(context.Background())
		if err != nil {
			exitWithError("failed to query sessions", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("list_sessions failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <client-id>",
	Short: "Force-disconnect one session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			exitWithError(fmt.Sprintf("invalid client ID %q", args[0]), err)
		}

		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Disconnect(context.Background(), uint32(id))
		if err != nil {
			exitWithError("failed to disconnect", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("disconnect failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

func init() {
	sessionsCmd.AddCommand(disconnectCmd)
}
