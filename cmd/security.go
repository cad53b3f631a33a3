package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coopad.dev/coopad/internal/command"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Inspect and manage admission control",
}

var securityStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show admission control counters",
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.SecurityStats(context.Background())
		if err != nil {
			exitWithError("failed to query security stats", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("security_stats failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var securityEventsLimit int

var securityEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent security events",
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.SecurityEvents(context.Background(), securityEventsLimit)
		if err != nil {
			exitWithError("failed to query security events", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("security_events failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var blockDurationSec int

var securityBlockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Block a source address",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.BlockIP(context.Background(), args[0], blockDurationSec)
		if err != nil {
			exitWithError("failed to block", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("block_ip failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var securityUnblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Unblock a source address",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.UnblockIP(context.Background(), args[0])
		if err != nil {
			exitWithError("failed to unblock", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("unblock_ip failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

func init() {
	securityEventsCmd.Flags().IntVarP(&securityEventsLimit, "limit", "n", 50,
		"maximum number of events to return")
	securityBlockCmd.Flags().IntVarP(&blockDurationSec, "duration", "d", 0,
		"block duration in seconds (0: configured default)")

	securityCmd.AddCommand(securityStatsCmd)
	securityCmd.AddCommand(securityEventsCmd)
	securityCmd.AddCommand(securityBlockCmd)
	securityCmd.AddCommand(securityUnblockCmd)
}
