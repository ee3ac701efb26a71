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

package main_test

import (
	"context"
	"errors"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	. "gopkg.in/check.v1"

	main "github.com/snapcore/ppd/cmd/ppd"
	"github.com/snapcore/ppd/config"
	"github.com/snapcore/ppd/dbusnotify"
	"github.com/snapcore/ppd/testutil"
)

type serveSuite struct {
	baseSuite

	mu       sync.Mutex
	notified []string
	cfg      *config.Config
}

var _ = Suite(&serveSuite{})

func (s *serveSuite) SetUpTest(c *C) {
	s.baseSuite.SetUpTest(c)
	s.notified = nil
	s.AddCleanup(main.MockSdNotify(func(unset bool, state string) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.notified = append(s.notified, state)
		return true, nil
	}))
	s.AddCleanup(main.MockSdWatchdogEnabled(func(bool) (time.Duration, error) {
		return 0, nil
	}))
	s.AddCleanup(main.MockDBusConnect(func() (*dbusnotify.Observer, *dbus.Conn, error) {
		return nil, nil, errors.New("no bus here")
	}))

	dir := c.MkDir()
	s.cfg = config.Defaults()
	s.cfg.Socket = filepath.Join(dir, "ppd.socket")
	s.cfg.Journal.Path = filepath.Join(dir, "journal.db")
}

func (s *serveSuite) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notified...)
}

func (s *serveSuite) TestServe(c *C) {
	s.cfg.DBus.Enabled = true
	sigs := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- main.Serve(s.cfg, sigs) }()

	testutil.WaitFor(c, 5*time.Second, func() bool {
		for _, st := range s.states() {
			if st == "READY=1" {
				return true
			}
		}
		return false
	})
	c.Check(s.logbuf.String(), Matches, `(?s).*cannot signal on the system bus: no bus here.*`)

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", s.cfg.Socket)
		},
	}}
	rsp, err := client.Get("http://localhost/v1/devices")
	c.Assert(err, IsNil)
	body, err := ioutil.ReadAll(rsp.Body)
	rsp.Body.Close()
	c.Assert(err, IsNil)
	c.Check(rsp.StatusCode, Equals, 200)
	c.Check(string(body), Matches, `.*"name":"loop0".*`)

	sigs <- syscall.SIGTERM
	select {
	case err := <-done:
		c.Check(err, IsNil)
	case <-time.After(testutil.HostScaledTimeout(5 * time.Second)):
		c.Fatal("serve did not exit")
	}
	c.Check(s.states(), DeepEquals, []string{"READY=1", "STOPPING=1"})
	c.Check(s.logbuf.String(), Matches, `(?s).*Exiting on terminated signal.*`)
}

func (s *serveSuite) TestWatchdog(c *C) {
	restore := main.MockSdWatchdogEnabled(func(bool) (time.Duration, error) {
		return 10 * time.Millisecond, nil
	})
	defer restore()

	sigs := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- main.Serve(s.cfg, sigs) }()

	testutil.WaitFor(c, 5*time.Second, func() bool {
		for _, st := range s.states() {
			if st == "WATCHDOG=1" {
				return true
			}
		}
		return false
	})
	sigs <- syscall.SIGINT
	c.Check(<-done, IsNil)
}

func (s *serveSuite) TestWatchdogError(c *C) {
	restore := main.MockSdWatchdogEnabled(func(bool) (time.Duration, error) {
		return 0, errors.New("bad WATCHDOG_USEC")
	})
	defer restore()

	err := main.Serve(s.cfg, nil)
	c.Check(err, ErrorMatches, `cannot run software watchdog: bad WATCHDOG_USEC`)
	c.Check(s.states(), HasLen, 0)
}

func (s *serveSuite) TestListenError(c *C) {
	s.cfg.Socket = filepath.Join(c.MkDir(), "missing", "ppd.socket")
	err := main.Serve(s.cfg, nil)
	c.Check(err, ErrorMatches, `when trying to listen on .*/missing/ppd.socket: .*`)
}

func (s *serveSuite) TestNewService(c *C) {
	s.cfg.DBus.Enabled = true
	s.cfg.DBus.Events = true
	var obs *dbusnotify.Observer
	restore := main.MockDBusConnect(func() (*dbusnotify.Observer, *dbus.Conn, error) {
		obs = dbusnotify.New(nil)
		return obs, nil, nil
	})
	defer restore()

	svc, err := main.NewService(s.cfg)
	c.Assert(err, IsNil)
	defer svc.Close()
	c.Check(svc.Devices(), Equals, 1)
	c.Check(svc.JournalOpen(), Equals, true)
	c.Assert(obs, NotNil)
	c.Check(obs.Events, Equals, true)
}

func (s *serveSuite) TestNewServiceBadDevice(c *C) {
	s.cfg.Devices[0].Latency = -time.Second
	_, err := main.NewService(s.cfg)
	c.Check(err, ErrorMatches, `device "loop0": negative latency`)
}

func (s *serveSuite) TestNewServiceNoJournal(c *C) {
	s.cfg.Journal.Path = ""
	svc, err := main.NewService(s.cfg)
	c.Assert(err, IsNil)
	defer svc.Close()
	c.Check(svc.JournalOpen(), Equals, false)
}
