// Package telemetry defines the event sink the host reports to. How the
// events are displayed or stored is the consumer's business.
package telemetry

import (
	"github.com/sirupsen/logrus"
)

// SessionStats is the periodic per-session report, emitted at most once per
// second per session. Latency is receive time minus the sender's own
// timestamp: a diagnostic estimate, not a round-trip measurement.
type SessionStats struct {
	ClientID  uint32
	Slot      int
	LatencyMs float64
	JitterMs  float64
	RateHz    float64
	Sequence  uint16
}

// Sink receives structured session events and free-text status lines.
type Sink interface {
	SessionJoined(clientID uint32, label, color string, slot int)
	SessionLeft(clientID uint32, label, color string, slot int)
	SessionStats(stats SessionStats)
	Status(line string)
}

// Log is a Sink writing structured log entries.
type Log struct {
	log *logrus.Entry
}

// NewLog returns a Sink backed by the global logger.
func NewLog() *Log {
	return &Log{log: logrus.WithField("component", "telemetry")}
}

func (l *Log) SessionJoined(clientID uint32, label, color string, slot int) {
	l.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"label":     label,
		"color":     color,
		"slot":      slot,
	}).Info("session joined")
}

func (l *Log) SessionLeft(clientID uint32, label, color string, slot int) {
	l.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"label":     label,
		"color":     color,
		"slot":      slot,
	}).Info("session left")
}

func (l *Log) SessionStats(s SessionStats) {
	l.log.WithFields(logrus.Fields{
		"client_id":  s.ClientID,
		"slot":       s.Slot,
		"latency_ms": s.LatencyMs,
		"jitter_ms":  s.JitterMs,
		"rate_hz":    s.RateHz,
		"sequence":   s.Sequence,
	}).Info("session stats")
}

func (l *Log) Status(line string) {
	l.log.Info(line)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionJoined(uint32, string, string, int) {}
func (Nop) SessionLeft(uint32, string, string, int)   {}
func (Nop) SessionStats(SessionStats)                 {}
func (Nop) Status(string)                             {}
