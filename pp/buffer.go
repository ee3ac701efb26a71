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

package pp

import (
	"fmt"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pixfmt"
)

// Handle names a piece of memory known to a BufferProvider.
type Handle uint32

// BufferProvider resolves client handles to device addresses. Every
// successful Resolve is paired with exactly one Release.
type BufferProvider interface {
	Resolve(h Handle) (addr, size uint64, err error)
	Release(h Handle)
}

// DMAObject is a provider specific shareable buffer object.
type DMAObject interface{}

// Fence is a provider specific hardware synchronization object.
type Fence interface{}

// FenceProvider is implemented by buffer providers that can hand out
// fences tracking hardware access to a buffer.
type FenceProvider interface {
	DMAObject(h Handle) (DMAObject, error)
	PutDMAObject(obj DMAObject)
	AttachFence(obj DMAObject) (Fence, error)
	SignalFence(f Fence) error
}

// BufInfo is what the hardware gets to see of a buffer.
type BufInfo struct {
	Planes [pixfmt.MaxPlanes]pixfmt.Plane
}

// memNode is one buffer queued on one direction of a job.
type memNode struct {
	bufID   uint32
	dir     Direction
	info    BufInfo
	handles [pixfmt.MaxPlanes]Handle
	dma     DMAObject
	fence   Fence
}

// newMemNode resolves the plane handles of q and places the planes for
// the image configured on q.Dir. On error every resolved handle has been
// released again.
func newMemNode(bufs BufferProvider, cfg *Config, q *QueueBuf) (*memNode, error) {
	if q.Handles[0] == 0 {
		return nil, invalidArgf("buffer %d has no plane 0 handle", q.BufID)
	}
	node := &memNode{
		bufID: q.BufID,
		dir:   q.Dir,
	}
	for i, h := range q.Handles {
		if h == 0 {
			continue
		}
		addr, size, err := bufs.Resolve(h)
		if err == nil && addr == 0 {
			err = fmt.Errorf("null address")
		}
		if err != nil {
			node.put(bufs)
			return nil, fmt.Errorf("%w: cannot resolve plane %d handle %d: %v", ErrInvalidBuffer, i, h, err)
		}
		node.handles[i] = h
		node.info.Planes[i] = pixfmt.Plane{Base: addr, Size: size}
	}
	if err := pixfmt.Place(cfg.Format, cfg.Size.HSize, cfg.Size.VSize, &node.info.Planes); err != nil {
		node.put(bufs)
		return nil, err
	}
	return node, nil
}

// attachFence gets a fence for the node if the provider supports them.
// Failing to get one is not fatal.
func (n *memNode) attachFence(bufs BufferProvider) {
	fp, ok := bufs.(FenceProvider)
	if !ok || n.fence != nil {
		return
	}
	if n.dma == nil {
		dma, err := fp.DMAObject(n.handles[0])
		if err != nil {
			logger.Debugf("cannot get dma object for buffer %d: %v", n.bufID, err)
			return
		}
		n.dma = dma
	}
	fence, err := fp.AttachFence(n.dma)
	if err != nil {
		logger.Debugf("cannot attach fence to buffer %d: %v", n.bufID, err)
		return
	}
	n.fence = fence
}

// put signals the node's fence and gives every resolved handle back.
func (n *memNode) put(bufs BufferProvider) {
	if fp, ok := bufs.(FenceProvider); ok {
		if n.fence != nil {
			if err := fp.SignalFence(n.fence); err != nil {
				logger.Noticef("cannot signal fence of buffer %d: %v", n.bufID, err)
			}
			n.fence = nil
		}
		if n.dma != nil {
			fp.PutDMAObject(n.dma)
			n.dma = nil
		}
	}
	for i, h := range n.handles {
		if h != 0 {
			bufs.Release(h)
			n.handles[i] = 0
		}
	}
}

// enqueue resolves and appends a buffer to one direction of the job.
func (j *Job) enqueue(q *QueueBuf) (*memNode, error) {
	j.stateMu.Lock()
	cfg := j.prop.Config[q.Dir]
	j.stateMu.Unlock()

	node, err := newMemNode(j.mgr.buffers, &cfg, q)
	if err != nil {
		return nil, err
	}

	j.memMu.Lock()
	defer j.memMu.Unlock()
	for _, n := range j.queues[q.Dir] {
		if n.bufID == q.BufID {
			node.put(j.mgr.buffers)
			return nil, invalidArgf("%s buffer %d already queued", q.Dir, q.BufID)
		}
	}
	j.queues[q.Dir] = append(j.queues[q.Dir], node)
	return node, nil
}

// take removes the buffer bufID from dir without releasing it.
func (j *Job) take(dir Direction, bufID uint32) *memNode {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	q := j.queues[dir]
	for i, n := range q {
		if n.bufID == bufID {
			j.queues[dir] = append(q[:i:i], q[i+1:]...)
			return n
		}
	}
	return nil
}

// takeFirst removes the oldest buffer queued on dir.
func (j *Job) takeFirst(dir Direction) *memNode {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	q := j.queues[dir]
	if len(q) == 0 {
		return nil
	}
	j.queues[dir] = q[1:]
	return q[0]
}

// takeFrame removes the oldest buffer of every direction in dirs, or
// nothing when one of them has no buffer queued.
func (j *Job) takeFrame(dirs ...Direction) []*memNode {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	for _, dir := range dirs {
		if len(j.queues[dir]) == 0 {
			return nil
		}
	}
	nodes := make([]*memNode, len(dirs))
	for i, dir := range dirs {
		nodes[i] = j.queues[dir][0]
		j.queues[dir] = j.queues[dir][1:]
	}
	return nodes
}

// dequeueAndRelease removes the buffer bufID from dir and releases its
// memory. It reports whether the buffer was queued.
func (j *Job) dequeueAndRelease(dir Direction, bufID uint32) bool {
	n := j.take(dir, bufID)
	if n == nil {
		logger.Debugf("job %d: %s buffer %d not queued", j.id, dir, bufID)
		return false
	}
	n.put(j.mgr.buffers)
	return true
}

// first returns the oldest buffer queued on dir without removing it.
func (j *Job) first(dir Direction) *memNode {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	if len(j.queues[dir]) == 0 {
		return nil
	}
	return j.queues[dir][0]
}

// nodes returns a snapshot of the buffers queued on dir.
func (j *Job) nodes(dir Direction) []*memNode {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	return append([]*memNode(nil), j.queues[dir]...)
}

// queued returns the number of buffers queued on dir.
func (j *Job) queued(dir Direction) int {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	return len(j.queues[dir])
}

// hasRequiredDepth reports whether enough buffers are queued for the job
// to be started.
func (j *Job) hasRequiredDepth() bool {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	src, dst := len(j.queues[DirSrc]), len(j.queues[DirDst])
	switch j.prop.Command {
	case CommandM2M:
		max := j.mgr.opts.MaxQueueDepth
		return src > 0 && dst > 0 && src <= max && dst <= max
	case CommandWB:
		return dst > 0
	case CommandOutput:
		return src > 0
	}
	return false
}

// release gives back every buffer queued on dir.
func (j *Job) release(dir Direction) {
	j.memMu.Lock()
	q := j.queues[dir]
	j.queues[dir] = nil
	j.memMu.Unlock()

	for _, n := range q {
		n.put(j.mgr.buffers)
	}
}

func (j *Job) releaseAll() {
	for dir := Direction(0); dir < NumDirections; dir++ {
		j.release(dir)
	}
}
