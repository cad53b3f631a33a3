// Package sender implements the client side of the relay: it samples an
// input source at a fixed rate, maps the sample through a controller
// profile and streams the frames to the host over UDP.
package sender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"coopad.dev/coopad/internal/config"
	"coopad.dev/coopad/internal/protocol"
)

// InputSource yields the current raw pad state. Sample is called from the
// send loop at the configured rate and must not block.
type InputSource interface {
	Sample() Input
}

// Neutral is an InputSource reporting a released pad. Useful as a
// connectivity heartbeat and in tests.
type Neutral struct{}

func (Neutral) Sample() Input { return Input{} }

// Sender streams profile-mapped frames to one host.
type Sender struct {
	cfg      config.SenderConfig
	profile  Profile
	source   InputSource
	clientID uint32
	log      *logrus.Entry
}

// New builds a sender. A zero configured client ID picks a random one per
// run, so parallel senders on one machine do not collide.
func New(cfg config.SenderConfig, profile Profile, source InputSource) *Sender {
	id := cfg.ClientID
	for id == 0 {
		id = rand.Uint32()
	}
	return &Sender{
		cfg:      cfg,
		profile:  profile,
		source:   source,
		clientID: id,
		log: logrus.WithFields(logrus.Fields{
			"component": "sender",
			"client_id": id,
		}),
	}
}

// ClientID returns the identifier used on the wire.
func (s *Sender) ClientID() uint32 { return s.clientID }

// Run streams frames until the context is canceled. The sequence number
// increments once per sent frame and wraps naturally at 16 bits.
func (s *Sender) Run(ctx context.Context) error {
	target := fmt.Sprintf("%s:%d", s.cfg.Target, s.cfg.Port)
	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("sender: dial %s: %w", target, err)
	}
	defer conn.Close()

	interval := time.Second / time.Duration(s.cfg.RateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"target":  target,
		"rate_hz": s.cfg.RateHz,
		"profile": s.profile.Name,
	}).Info("sender started")

	var seq uint16
	sent := 0
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.log.WithField("sent", sent).Info("sender stopped")
			return nil
		case <-ticker.C:
		}

		seq++
		f := s.profile.Map(s.source.Sample())
		st := protocol.New(s.clientID, seq, f.Buttons, f.LT, f.RT, f.LX, f.LY, f.RX, f.RY)
		if _, err := conn.Write(st.Marshal()); err != nil {
			// UDP write errors (ICMP port unreachable and the like) are
			// transient while the host restarts; keep sending.
			s.log.WithError(err).Debug("send failed")
			continue
		}
		sent++

		if now := time.Now(); now.Sub(lastReport) >= time.Second {
			s.log.WithFields(logrus.Fields{
				"rate_hz": float64(sent) / now.Sub(lastReport).Seconds(),
				"seq":     seq,
			}).Debug("send rate")
			lastReport = now
			sent = 0
		}
	}
}
