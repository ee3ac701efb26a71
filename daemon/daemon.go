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

// Package daemon serves the post-processing manager over a unix socket
// as a JSON API.
package daemon

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/activation"
	"github.com/gorilla/mux"
	"gopkg.in/tomb.v2"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pp"
)

// BufferAllocator is implemented by buffer providers that allocate the
// buffers their handles refer to.
type BufferAllocator interface {
	Allocate(size uint64) (pp.Handle, error)
	Free(h pp.Handle) error
}

// Options configure a Daemon.
type Options struct {
	SocketPath string
	// Allocator serves the buffer endpoints, which are not
	// available without one.
	Allocator BufferAllocator
}

// A Daemon listens for requests and routes them to the manager.
type Daemon struct {
	mgr      *pp.Manager
	opts     Options
	listener net.Listener
	server   *http.Server
	tomb     tomb.Tomb
	router   *mux.Router

	mu       sync.Mutex
	sessions map[int]*session

	// bufMu is held for writing while buffers are allocated or freed
	// and for reading while their handles are queued
	bufMu  sync.RWMutex
	owners map[pp.Handle]uint32
}

// session is a client connection of the manager opened over the API.
type session struct {
	cl  *pp.Client
	uid uint32
}

// A ResponseFunc handles one of the individual verbs for a method
type ResponseFunc func(*Command, *http.Request) Response

// A Command routes a request to an individual per-verb ResponseFunc
type Command struct {
	Path string

	GET    ResponseFunc
	POST   ResponseFunc
	DELETE ResponseFunc
	// UserOK allows any local user, not only root and the user the
	// daemon runs as.
	UserOK bool

	d *Daemon
}

var sysGetuid = os.Getuid

func (c *Command) canAccess(r *http.Request) bool {
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return false
	}
	if uid == 0 || int(uid) == sysGetuid() {
		return true
	}
	return c.UserOK
}

func (c *Command) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.canAccess(r) {
		Forbidden("access denied").ServeHTTP(w, r)
		return
	}

	var rspf ResponseFunc
	switch r.Method {
	case "GET":
		rspf = c.GET
	case "POST":
		rspf = c.POST
	case "DELETE":
		rspf = c.DELETE
	}

	var rsp Response
	if rspf != nil {
		rsp = rspf(c, r)
	} else {
		rsp = BadMethod("method %q not allowed", r.Method)
	}
	rsp.ServeHTTP(w, r)
}

type wrappedWriter struct {
	w http.ResponseWriter
	s int
}

func (w *wrappedWriter) Header() http.Header {
	return w.w.Header()
}

func (w *wrappedWriter) Write(bs []byte) (int, error) {
	return w.w.Write(bs)
}

func (w *wrappedWriter) WriteHeader(s int) {
	w.w.WriteHeader(s)
	w.s = s
}

func logit(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &wrappedWriter{w: w}
		t0 := time.Now()
		handler.ServeHTTP(ww, r)
		t := time.Since(t0)
		logger.Debugf("%s %s %s %s %d", r.RemoteAddr, r.Method, r.URL, t, ww.s)
	})
}

var activationListeners = activation.Listeners

// getListener returns the listener systemd passed in for socketPath, or
// sets one up directly.
func getListener(socketPath string) (net.Listener, error) {
	listeners, err := activationListeners()
	if err != nil {
		return nil, err
	}
	for _, l := range listeners {
		if l != nil && l.Addr().String() == socketPath {
			logger.Debugf("socket %q was activated", socketPath)
			return l, nil
		}
	}

	if c, err := net.Dial("unix", socketPath); err == nil {
		c.Close()
		return nil, fmt.Errorf("socket %q already in use", socketPath)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	address, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	// everyone may connect, access is checked per request
	oldmask := syscall.Umask(0111)
	listener, err := net.ListenUnix("unix", address)
	syscall.Umask(oldmask)
	if err != nil {
		return nil, err
	}
	logger.Debugf("socket %q was not activated; listening", socketPath)
	return listener, nil
}

// New returns a daemon serving mgr.
func New(mgr *pp.Manager, opts Options) *Daemon {
	d := &Daemon{
		mgr:      mgr,
		opts:     opts,
		sessions: make(map[int]*session),
		owners:   make(map[pp.Handle]uint32),
	}
	d.addRoutes()
	return d
}

// Init sets up the listener. Don't call more than once.
func (d *Daemon) Init() error {
	listener, err := getListener(d.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("when trying to listen on %s: %v", d.opts.SocketPath, err)
	}
	d.listener = &ucrednetListener{listener}
	return nil
}

func (d *Daemon) addRoutes() {
	d.router = mux.NewRouter()
	for _, c := range api {
		c := *c
		c.d = d
		d.router.Handle(c.Path, &c).Name(c.Path)
	}
	d.router.NotFoundHandler = NotFound("not found")
}

// Start serves requests until Stop is called.
func (d *Daemon) Start() {
	d.server = &http.Server{Handler: logit(d.router)}
	d.tomb.Go(func() error {
		err := d.server.Serve(d.listener)
		if err == http.ErrServerClosed {
			err = nil
		}
		if d.tomb.Err() == tomb.ErrStillAlive {
			return err
		}
		return nil
	})
	logger.Noticef("serving on %s", d.opts.SocketPath)
}

// Stop shuts down the daemon, closing every session.
func (d *Daemon) Stop() error {
	d.tomb.Kill(nil)
	if d.server != nil {
		d.server.Close()
	}

	d.mu.Lock()
	ids := make([]int, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	sessions := d.sessions
	d.sessions = make(map[int]*session)
	d.mu.Unlock()
	for _, id := range ids {
		d.mgr.Disconnect(sessions[id].cl)
	}

	if d.server == nil {
		return nil
	}
	return d.tomb.Wait()
}

// Dying is a tomb-ish thing
func (d *Daemon) Dying() <-chan struct{} {
	return d.tomb.Dying()
}

func (d *Daemon) openSession(uid uint32) (*pp.Client, error) {
	cl, err := d.mgr.Connect()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[cl.ID()] = &session{cl: cl, uid: uid}
	return cl, nil
}

// session returns the session sid if the peer of r may use it.
func (d *Daemon) session(r *http.Request, sid int) (*pp.Client, error) {
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sid]
	// sessions of other users are invisible
	if !ok || (uid != 0 && s.uid != uid) {
		return nil, &pp.NotFoundError{Kind: "session", ID: sid}
	}
	return s.cl, nil
}

func (d *Daemon) closeSession(cl *pp.Client) {
	d.mu.Lock()
	_, ok := d.sessions[cl.ID()]
	delete(d.sessions, cl.ID())
	d.mu.Unlock()
	if ok {
		d.mgr.Disconnect(cl)
	}
}

// allocateBuffer allocates a buffer owned by uid.
func (d *Daemon) allocateBuffer(uid uint32, size uint64) (pp.Handle, error) {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()

	h, err := d.opts.Allocator.Allocate(size)
	if err != nil {
		return 0, err
	}
	d.owners[h] = uid
	return h, nil
}

// ownedBy reports whether uid may use the buffer h. Buffers of other
// users are off limits, handles the daemon did not allocate are left
// to the buffer provider. Must be called with d.bufMu held.
func (d *Daemon) ownedBy(h pp.Handle, uid uint32) bool {
	owner, ok := d.owners[h]
	return !ok || uid == 0 || owner == uid
}

// freeBuffer frees the buffer h on behalf of uid.
func (d *Daemon) freeBuffer(uid uint32, h pp.Handle) error {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()

	if !d.ownedBy(h, uid) {
		return &pp.NotFoundError{Kind: "buffer", ID: h}
	}
	if err := d.opts.Allocator.Free(h); err != nil {
		return err
	}
	delete(d.owners, h)
	return nil
}

// queueBuffer queues a buffer on a job of cl on behalf of uid, refusing
// handles of buffers uid does not own.
func (d *Daemon) queueBuffer(uid uint32, cl *pp.Client, q *pp.QueueBuf) error {
	d.bufMu.RLock()
	defer d.bufMu.RUnlock()

	if q.Op == pp.BufEnqueue {
		for i, h := range q.Handles {
			if h != 0 && !d.ownedBy(h, uid) {
				return fmt.Errorf("%w: cannot resolve plane %d handle %d: buffer %d not found", pp.ErrInvalidBuffer, i, h, h)
			}
		}
	}
	return d.mgr.QueueBuffer(cl, q)
}
