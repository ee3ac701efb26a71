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

// Package dbusnotify broadcasts job notices as D-Bus signals.
package dbusnotify

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/snapcore/ppd/pp"
)

const (
	BusName   = "io.snapcraft.PostProcessor"
	Interface = "io.snapcraft.PostProcessor.Jobs"
	Path      = dbus.ObjectPath("/io/snapcraft/PostProcessor")
)

var signalNames = map[pp.NoticeKind]string{
	pp.JobRegistered:  "Registered",
	pp.JobStarted:     "Started",
	pp.JobPaused:      "Paused",
	pp.JobResumed:     "Resumed",
	pp.JobStopped:     "Stopped",
	pp.EventDelivered: "EventDelivered",
	pp.JobFailed:      "Failed",
}

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Observer is a pp.Observer emitting one signal per notice.
type Observer struct {
	conn emitter
	// Events selects whether EventDelivered notices are signaled too.
	Events bool
}

// New returns an observer emitting signals on conn.
func New(conn *dbus.Conn) *Observer {
	return &Observer{conn: conn}
}

var systemBus = dbus.ConnectSystemBus

// Connect connects to the system bus and claims BusName.
func Connect() (*Observer, *dbus.Conn, error) {
	conn, err := systemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to the system bus: %v", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("cannot request name %s: %v", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, nil, fmt.Errorf("cannot request name %s: already taken", BusName)
	}
	return New(conn), conn, nil
}

// Notify emits the signal for n. The arguments are the job id, the
// device id, the client id and the command name; EventDelivered signals
// add the source and destination buffer ids and the event timestamp in
// nanoseconds.
func (o *Observer) Notify(n *pp.Notice) error {
	name, ok := signalNames[n.Kind]
	if !ok {
		return fmt.Errorf("no signal for %s", n.Kind)
	}
	if n.Kind == pp.EventDelivered && !o.Events {
		return nil
	}
	values := []interface{}{int32(n.PropID), int32(n.DevID), int32(n.Client), n.Command.String()}
	if n.Kind == pp.EventDelivered && n.Event != nil {
		values = append(values,
			n.Event.BufIDs[pp.DirSrc],
			n.Event.BufIDs[pp.DirDst],
			n.Event.Timestamp.UnixNano())
	}
	if err := o.conn.Emit(Path, Interface+"."+name, values...); err != nil {
		return fmt.Errorf("cannot emit %s: %v", name, err)
	}
	return nil
}
