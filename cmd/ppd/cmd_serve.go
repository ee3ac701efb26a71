// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/jessevdk/go-flags"

	"github.com/snapcore/ppd/bufmem"
	"github.com/snapcore/ppd/config"
	"github.com/snapcore/ppd/daemon"
	"github.com/snapcore/ppd/dbusnotify"
	"github.com/snapcore/ppd/journal"
	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/loopdev"
	"github.com/snapcore/ppd/pp"
)

var shortServeHelp = "Run the daemon"
var longServeHelp = `
The serve command registers the configured devices and serves the API
on the configured socket until it gets SIGINT or SIGTERM.
`

type cmdServe struct{}

func init() {
	addCommand("serve", shortServeHelp, longServeHelp, func() flags.Commander { return &cmdServe{} })
}

var (
	sdNotify          = sddaemon.SdNotify
	sdWatchdogEnabled = sddaemon.SdWatchdogEnabled
	dbusConnect       = dbusnotify.Connect
)

// service is everything the daemon runs on.
type service struct {
	alloc   *bufmem.Allocator
	mgr     *pp.Manager
	devices []*loopdev.Device
	journal *journal.Journal
	bus     *dbus.Conn
	d       *daemon.Daemon
}

func newService(cfg *config.Config) (svc *service, err error) {
	s := &service{alloc: bufmem.New(cfg.Limits.MaxBuffers)}
	s.mgr = pp.New(s.alloc, cfg.Options())
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	for i := range cfg.Devices {
		lc, err := cfg.Devices[i].Loopback()
		if err != nil {
			return nil, fmt.Errorf("device %q: %v", cfg.Devices[i].Name, err)
		}
		dev := loopdev.New(lc)
		if _, err := s.mgr.AddDevice(lc.Name, dev, lc.Capability()); err != nil {
			return nil, err
		}
		s.devices = append(s.devices, dev)
	}

	if cfg.Journal.Path != "" {
		s.journal, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries)
		if err != nil {
			return nil, err
		}
		if _, err := s.mgr.Notifier().Register(s.journal); err != nil {
			return nil, err
		}
	}

	if cfg.DBus.Enabled {
		obs, conn, err := dbusConnect()
		if err != nil {
			// the daemon is still useful without the bus
			logger.Noticef("cannot signal on the system bus: %v", err)
		} else {
			s.bus = conn
			obs.Events = cfg.DBus.Events
			if _, err := s.mgr.Notifier().Register(obs); err != nil {
				return nil, err
			}
		}
	}

	s.d = daemon.New(s.mgr, daemon.Options{
		SocketPath: cfg.Socket,
		Allocator:  s.alloc,
	})
	return s, nil
}

func (s *service) close() {
	if err := s.mgr.Close(); err != nil {
		logger.Noticef("cannot close manager: %v", err)
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	s.alloc.Close()
}

func runWatchdog(d *daemon.Daemon) (*time.Ticker, error) {
	interval, err := sdWatchdogEnabled(false)
	if err != nil {
		return nil, err
	}
	// not running under a systemd watchdog
	if interval == 0 {
		return nil, nil
	}
	dur := interval / 2
	logger.Debugf("Setting up sd_notify() watchdog timer every %s", dur)
	wt := time.NewTicker(dur)

	go func() {
		for {
			select {
			case <-wt.C:
				sdNotify(false, sddaemon.SdNotifyWatchdog)
			case <-d.Dying():
				return
			}
		}
	}()

	return wt, nil
}

func serve(cfg *config.Config, sigs <-chan os.Signal) error {
	t0 := time.Now()
	s, err := newService(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.d.Init(); err != nil {
		return err
	}
	s.d.Start()

	watchdog, err := runWatchdog(s.d)
	if err != nil {
		s.d.Stop()
		return fmt.Errorf("cannot run software watchdog: %v", err)
	}
	if watchdog != nil {
		defer watchdog.Stop()
	}

	if _, err := sdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logger.Noticef("cannot notify systemd: %v", err)
	}
	logger.Debugf("activation done in %v", time.Since(t0).Truncate(time.Millisecond))

	select {
	case sig := <-sigs:
		logger.Noticef("Exiting on %s signal.", sig)
	case <-s.d.Dying():
		// something called Stop()
	}

	sdNotify(false, sddaemon.SdNotifyStopping)
	return s.d.Stop()
}

func (x *cmdServe) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	cfg, err := config.Load(optionsData.Config)
	if err != nil {
		return err
	}
	if cfg.Debug {
		if err := logger.SimpleSetup(&logger.LoggerOptions{ForceDebug: true}); err != nil {
			return err
		}
	}

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	return serve(cfg, ch)
}
