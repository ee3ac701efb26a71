// -*- Mode: Go; indent-tabs-mode: t -*-
//go:build linux

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

// Package bufmem hands out image buffers backed by memfd files, so they
// can be shared with other processes by file descriptor.
package bufmem

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/snapcore/ppd/handles"
	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pp"
)

// MaxSize bounds a single buffer.
const MaxSize = 256 << 20

var ErrClosed = errors.New("buffer allocator closed")

type buffer struct {
	fd    int
	mem   []byte
	refs  int
	freed bool
}

func (b *buffer) destroy() {
	if err := unix.Munmap(b.mem); err != nil {
		logger.Noticef("cannot unmap buffer: %v", err)
	}
	unix.Close(b.fd)
}

// Allocator is a pp.BufferProvider whose handles name memfd buffers it
// allocated itself.
type Allocator struct {
	mu     sync.Mutex
	bufs   *handles.Pool[*buffer]
	closed bool
}

// New returns an allocator handing out at most limit buffers at a time,
// 0 means no limit.
func New(limit int) *Allocator {
	return &Allocator{bufs: handles.New[*buffer](limit)}
}

var memfdCreate = unix.MemfdCreate

// Allocate creates a zeroed buffer of size bytes.
func (a *Allocator) Allocate(size uint64) (pp.Handle, error) {
	if size == 0 || size > MaxSize {
		return 0, fmt.Errorf("%w: cannot allocate buffer of %d bytes", pp.ErrInvalidSize, size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}

	fd, err := memfdCreate("ppd-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		return 0, fmt.Errorf("cannot create buffer: %v", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("cannot size buffer: %v", err)
	}
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("cannot map buffer: %v", err)
	}
	b := &buffer{fd: fd, mem: mem}
	id, err := a.bufs.Allocate(b)
	if err != nil {
		b.destroy()
		return 0, fmt.Errorf("%w: cannot allocate buffer: %v", pp.ErrOutOfResources, err)
	}
	logger.Debugf("buffer %d: %d bytes", id, size)
	return pp.Handle(id), nil
}

// lookup returns a live buffer. Must be called with a.mu held.
func (a *Allocator) lookup(h pp.Handle) (*buffer, error) {
	b, ok := a.bufs.Lookup(int(h))
	if !ok || b.freed {
		return nil, &pp.NotFoundError{Kind: "buffer", ID: h}
	}
	return b, nil
}

// Free gives a buffer back. The buffer and its handle stay around until
// the last reference taken with Resolve is released.
func (a *Allocator) Free(h pp.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(h)
	if err != nil {
		return err
	}
	b.freed = true
	a.reap(h, b)
	return nil
}

// reap destroys a freed buffer nobody references anymore. Must be called
// with a.mu held.
func (a *Allocator) reap(h pp.Handle, b *buffer) {
	if !b.freed || b.refs > 0 {
		return
	}
	b.destroy()
	a.bufs.Release(int(h))
	logger.Debugf("buffer %d freed", h)
}

// Resolve takes a reference to a buffer and returns where it is mapped.
func (a *Allocator) Resolve(h pp.Handle) (addr, size uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	b.refs++
	return uint64(uintptr(unsafe.Pointer(&b.mem[0]))), uint64(len(b.mem)), nil
}

func (a *Allocator) Release(h pp.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.bufs.Lookup(int(h))
	if !ok || b.refs == 0 {
		logger.Noticef("release of unreferenced buffer %d", h)
		return
	}
	b.refs--
	a.reap(h, b)
}

// Bytes returns the memory of a buffer. It is only valid until the
// buffer is freed.
func (a *Allocator) Bytes(h pp.Handle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return b.mem, nil
}

// Size returns the size of a buffer.
func (a *Allocator) Size(h pp.Handle) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(h)
	if err != nil {
		return 0, err
	}
	return uint64(len(b.mem)), nil
}

// Len returns the number of buffers still allocated, freed ones that
// are still referenced included.
func (a *Allocator) Len() int {
	return a.bufs.Len()
}

// Close destroys every buffer, referenced or not.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	var ids []int
	a.bufs.Range(func(id int, b *buffer) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if b, ok := a.bufs.Take(id); ok {
			if b.refs > 0 {
				logger.Noticef("buffer %d destroyed with %d references", id, b.refs)
			}
			b.destroy()
		}
	}
	return nil
}
