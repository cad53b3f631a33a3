package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coopad.dev/coopad/internal/config"
	logpkg "coopad.dev/coopad/internal/log"
	"coopad.dev/coopad/internal/sender"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Stream gamepad input to a coopad host",
	Long: `Run the sender: sample the local pad at a fixed rate, map it through
a controller profile and stream the frames to the host over UDP.

Flags override the sender section of the config file. Without a physical
input backend the sender streams neutral frames, which is useful for
connectivity checks.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSend(cmd); err != nil {
			exitWithError("sender failed", err)
		}
	},
}

var (
	sendTarget  string
	sendPort    int
	sendRate    int
	sendProfile string
	sendID      uint32
)

func init() {
	sendCmd.Flags().StringVarP(&sendTarget, "target", "t", "", "host address")
	sendCmd.Flags().IntVarP(&sendPort, "port", "p", 0, "host UDP port")
	sendCmd.Flags().IntVarP(&sendRate, "rate", "r", 0, "send rate in Hz (30, 60 or 90)")
	sendCmd.Flags().StringVar(&sendProfile, "profile", "", "controller profile name")
	sendCmd.Flags().Uint32Var(&sendID, "id", 0, "client ID (0: random per run)")
}

func runSend(cmd *cobra.Command) error {
	var cfg *config.GlobalConfig
	if configFile == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
	}
	if err := logpkg.Init(cfg.Log); err != nil {
		return err
	}

	sc := cfg.Sender
	if cmd.Flags().Changed("target") {
		sc.Target = sendTarget
	}
	if cmd.Flags().Changed("port") {
		sc.Port = sendPort
	}
	if cmd.Flags().Changed("rate") {
		sc.RateHz = sendRate
	}
	if cmd.Flags().Changed("profile") {
		sc.Profile = sendProfile
	}
	if cmd.Flags().Changed("id") {
		sc.ClientID = sendID
	}

	switch sc.RateHz {
	case 30, 60, 90:
	default:
		return fmt.Errorf("invalid rate %d: must be 30, 60 or 90", sc.RateHz)
	}

	profile, err := sender.ResolveProfile(sc.Profile, sc.ProfileFile, sc.ProfileOverrides)
	if err != nil {
		return err
	}

	s := sender.New(sc, profile, sender.Neutral{})
	logrus.WithField("client_id", s.ClientID()).Info("starting sender, Ctrl-C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return s.Run(ctx)
}
