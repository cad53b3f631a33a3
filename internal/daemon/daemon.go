// Package daemon wires the host process together: configuration, logging,
// admission control, the session orchestrator, the metrics endpoint and the
// control socket, with one lifecycle for all of them.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"coopad.dev/coopad/internal/command"
	"coopad.dev/coopad/internal/config"
	"coopad.dev/coopad/internal/host"
	logpkg "coopad.dev/coopad/internal/log"
	"coopad.dev/coopad/internal/metrics"
	"coopad.dev/coopad/internal/security"
	"coopad.dev/coopad/internal/sink/console"
	"coopad.dev/coopad/internal/telemetry"
)

// Daemon manages the coopad host process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	security      *security.Manager
	host          *host.Host
	handler       *command.Handler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	group        *errgroup.Group
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration and creates a daemon. An empty configPath uses
// built-in defaults.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	var cfg *config.GlobalConfig
	if configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// NewSinkFactory is the hook tests and platform builds use to substitute
// the virtual-controller backend. Defaults to the console sink.
var NewSinkFactory = console.NewFactory

// Start initializes and starts all components.
func (d *Daemon) Start() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"config": d.configPath,
		"socket": d.socketPath,
		"mode":   d.config.Host.Mode,
	}).Info("starting coopad host")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	d.security = security.NewManager(d.config.Security.ManagerConfig())
	d.host = host.New(d.config.Host, d.security, NewSinkFactory(), telemetry.NewLog())
	if err := d.host.Start(); err != nil {
		d.removePIDFile()
		return err
	}

	d.handler = command.NewHandler(d.host, d.security)
	d.handler.SetShutdownFunc(func() {
		logrus.Info("shutdown triggered via control socket")
		close(d.shutdownChan)
	})
	d.udsServer = command.NewUDSServer(d.socketPath, d.handler)

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
		if err := d.metricsServer.Start(); err != nil {
			logrus.WithError(err).Error("metrics server failed to start")
			d.metricsServer = nil
		}
	}

	d.group, _ = errgroup.WithContext(d.ctx)
	d.group.Go(func() error {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("control socket: %w", err)
		}
		return nil
	})

	logrus.Info("daemon started")
	return nil
}

// Run blocks until shutdown, triggered by SIGTERM/SIGINT, the shutdown
// control command, or context cancellation. SIGHUP reloads what can be
// reloaded in place.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logrus.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					logrus.WithError(err).Error("config reload failed")
				}
			}

		case <-d.shutdownChan:
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Stop shuts everything down in dependency order: stop accepting operator
// commands last so a hung UDP teardown can still be inspected.
func (d *Daemon) Stop() {
	logrus.Info("initiating graceful shutdown")

	if err := d.host.Stop(); err != nil {
		logrus.WithError(err).Error("host stop failed")
	}

	d.cancel()
	d.udsServer.Stop()
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			logrus.WithError(err).Error("server error during shutdown")
		}
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logrus.WithError(err).Error("metrics server stop failed")
		}
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	d.removePIDFile()

	logrus.Info("daemon stopped")
}

// Reload re-reads the configuration file. Only logging settings reload in
// place; host and security changes need a restart and are reported.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("load new config: %w", err)
	}

	var requiresRestart []string
	if newConfig.Host != d.config.Host {
		requiresRestart = append(requiresRestart, "host")
	}
	if newConfig.Control.Socket != d.config.Control.Socket {
		requiresRestart = append(requiresRestart, "control.socket")
	}

	oldLog := d.config.Log
	d.config = newConfig
	if newConfig.Log != oldLog {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("reinit logging: %w", err)
		}
	}

	logrus.WithField("requires_restart", requiresRestart).Info("configuration reloaded")
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("remove PID file failed")
	}
}
