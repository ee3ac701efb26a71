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

package daemon

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var errNoID = errors.New("no pid/uid found")

const (
	ucrednetNoProcess = int32(0)
	ucrednetNobody    = uint32((1 << 32) - 1)
)

// ucrednetGet parses the peer credentials encoded in a remote address by
// ucrednetAddr.
func ucrednetGet(remoteAddr string) (pid int32, uid uint32, err error) {
	pid = ucrednetNoProcess
	uid = ucrednetNobody
	for _, token := range strings.Split(remoteAddr, ";") {
		switch {
		case strings.HasPrefix(token, "pid="):
			var v int64
			if v, err = strconv.ParseInt(token[4:], 10, 32); err != nil {
				return pid, uid, err
			}
			pid = int32(v)
		case strings.HasPrefix(token, "uid="):
			var v uint64
			if v, err = strconv.ParseUint(token[4:], 10, 32); err != nil {
				return pid, uid, err
			}
			uid = uint32(v)
		}
	}
	if pid == ucrednetNoProcess || uid == ucrednetNobody {
		err = errNoID
	}
	return pid, uid, err
}

type ucrednet struct {
	pid int32
	uid uint32
}

func (un *ucrednet) String() string {
	if un == nil {
		return "pid=;uid=;"
	}
	return fmt.Sprintf("pid=%d;uid=%d;", un.pid, un.uid)
}

type ucrednetAddr struct {
	net.Addr
	*ucrednet
}

func (wa *ucrednetAddr) String() string {
	return wa.ucrednet.String()
}

type ucrednetConn struct {
	net.Conn
	*ucrednet
}

func (wc *ucrednetConn) RemoteAddr() net.Addr {
	return &ucrednetAddr{wc.Conn.RemoteAddr(), wc.ucrednet}
}

// ucrednetListener makes the credentials of the peer of every accepted
// unix connection available as its remote address.
type ucrednetListener struct{ net.Listener }

var getUcred = unix.GetsockoptUcred

func (wl *ucrednetListener) Accept() (net.Conn, error) {
	con, err := wl.Listener.Accept()
	if err != nil {
		return nil, err
	}

	var unet *ucrednet
	if ucon, ok := con.(*net.UnixConn); ok {
		raw, err := ucon.SyscallConn()
		if err != nil {
			con.Close()
			return nil, err
		}
		var ucred *unix.Ucred
		var credErr error
		err = raw.Control(func(fd uintptr) {
			ucred, credErr = getUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		})
		if err == nil {
			err = credErr
		}
		if err != nil {
			con.Close()
			return nil, fmt.Errorf("cannot get peer credentials: %v", err)
		}
		unet = &ucrednet{pid: ucred.Pid, uid: ucred.Uid}
	}

	return &ucrednetConn{con, unet}, nil
}
