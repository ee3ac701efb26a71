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

package pptest

import (
	"fmt"
	"sync"

	"github.com/snapcore/ppd/pp"
)

type buffer struct {
	addr, size uint64
	refs       int
}

// Buffers is a pp.BufferProvider over made up addresses, counting the
// handles resolved and not released yet.
type Buffers struct {
	mu      sync.Mutex
	next    pp.Handle
	bufs    map[pp.Handle]*buffer
	broken  map[pp.Handle]bool
	badFree int
}

// NewBuffers returns an empty Buffers.
func NewBuffers() *Buffers {
	return &Buffers{
		bufs:   make(map[pp.Handle]*buffer),
		broken: make(map[pp.Handle]bool),
	}
}

// Add makes up a buffer of size bytes at addr and returns its handle.
func (b *Buffers) Add(addr, size uint64) pp.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.bufs[b.next] = &buffer{addr: addr, size: size}
	return b.next
}

// Break makes resolving h fail from now on.
func (b *Buffers) Break(h pp.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken[h] = true
}

func (b *Buffers) Resolve(h pp.Handle) (addr, size uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.bufs[h]
	if !ok || b.broken[h] {
		return 0, 0, fmt.Errorf("no buffer with handle %d", h)
	}
	buf.refs++
	return buf.addr, buf.size, nil
}

func (b *Buffers) Release(h pp.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.bufs[h]
	if !ok || buf.refs == 0 {
		b.badFree++
		return
	}
	buf.refs--
}

// Outstanding returns the number of resolved handles not released yet.
func (b *Buffers) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, buf := range b.bufs {
		n += buf.refs
	}
	return n
}

// BadReleases returns the number of releases of handles that were not
// resolved.
func (b *Buffers) BadReleases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.badFree
}

// FencedBuffers is a Buffers that also hands out fences.
type FencedBuffers struct {
	*Buffers

	mu       sync.Mutex
	objects  int
	fences   int
	signaled int
}

// NewFencedBuffers returns an empty FencedBuffers.
func NewFencedBuffers() *FencedBuffers {
	return &FencedBuffers{Buffers: NewBuffers()}
}

type dmaObject struct{ h pp.Handle }

type fence struct{ seq int }

func (f *FencedBuffers) DMAObject(h pp.Handle) (pp.DMAObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects++
	return &dmaObject{h: h}, nil
}

func (f *FencedBuffers) PutDMAObject(obj pp.DMAObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects--
}

func (f *FencedBuffers) AttachFence(obj pp.DMAObject) (pp.Fence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fences++
	return &fence{seq: f.fences}, nil
}

func (f *FencedBuffers) SignalFence(fc pp.Fence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled++
	return nil
}

// Fences returns how many fences were attached and signaled, and how
// many dma objects are still held.
func (f *FencedBuffers) Fences() (attached, signaled, objects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fences, f.signaled, f.objects
}
