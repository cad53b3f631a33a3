// Package console implements a diagnostic sink that logs applied frames
// instead of driving an OS device. Used when no virtual-controller driver
// is wired in, and as the degraded-mode fallback target.
package console

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"coopad.dev/coopad/internal/sink"
)

// Sink logs each committed frame at debug level.
type Sink struct {
	log *logrus.Entry

	buttons        uint16
	lx, ly, rx, ry int16
	lt, rt         uint8
}

// NewFactory returns a Factory producing console sinks.
func NewFactory() sink.Factory {
	return sink.FactoryFunc(func() (sink.Sink, error) {
		return &Sink{log: logrus.WithField("sink", "console")}, nil
	})
}

func (s *Sink) PressButton(bit uint16) error {
	s.buttons |= bit
	return nil
}

func (s *Sink) ReleaseButton(bit uint16) error {
	s.buttons &^= bit
	return nil
}

func (s *Sink) SetSticks(lx, ly, rx, ry int16) error {
	s.lx, s.ly, s.rx, s.ry = lx, ly, rx, ry
	return nil
}

func (s *Sink) SetTriggers(lt, rt uint8) error {
	s.lt, s.rt = lt, rt
	return nil
}

func (s *Sink) Commit() error {
	s.log.WithFields(logrus.Fields{
		"buttons": fmt.Sprintf("%#06x", s.buttons),
		"lx":      s.lx,
		"ly":      s.ly,
		"rx":      s.rx,
		"ry":      s.ry,
		"lt":      s.lt,
		"rt":      s.rt,
	}).Debug("frame committed")
	return nil
}

func (s *Sink) Reset() error {
	s.buttons = 0
	s.lx, s.ly, s.rx, s.ry = 0, 0, 0, 0
	s.lt, s.rt = 0, 0
	return nil
}

func (s *Sink) Close() error { return nil }
