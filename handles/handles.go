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

// Package handles implements small integer handle spaces: every
// allocation yields the lowest positive integer not currently in use,
// mapped to the object it was allocated for.
package handles

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/btree"
)

// ErrExhausted is returned by Allocate when every handle up to the pool
// limit is in use.
var ErrExhausted = errors.New("handle space exhausted")

// Pool maps handles to objects. It is safe for concurrent use; every
// operation takes the pool's own lock and never calls out while holding
// it.
type Pool[T any] struct {
	mu    sync.Mutex
	limit int
	// next is the lowest handle never handed out; every handle below it
	// is either live or in free.
	next  int
	free  *btree.BTreeG[int]
	items map[int]T
}

// New returns a pool handing out handles in [1, limit]. A limit <= 0
// means no limit other than the int32 range.
func New[T any](limit int) *Pool[T] {
	if limit <= 0 || limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	return &Pool[T]{
		limit: limit,
		next:  1,
		free:  btree.NewOrderedG[int](8),
		items: make(map[int]T),
	}
}

// Allocate maps obj to the lowest unused handle and returns it.
func (p *Pool[T]) Allocate(obj T) (int, error) {
	return p.AllocateWith(func(int) T { return obj })
}

// AllocateWith is like Allocate but builds the object from its handle.
// build runs with the pool lock held and must not call back into the
// pool.
func (p *Pool[T]) AllocateWith(build func(id int) T) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.free.DeleteMin()
	if !ok {
		if p.next > p.limit {
			return 0, ErrExhausted
		}
		id = p.next
		p.next++
	}
	p.items[id] = build(id)
	return id, nil
}

// Lookup returns the object mapped to id.
func (p *Pool[T]) Lookup(id int) (obj T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok = p.items[id]
	return obj, ok
}

// Take removes the mapping for id and returns the object it pointed to.
// Of several concurrent Take calls for the same id only one succeeds.
func (p *Pool[T]) Take(id int) (obj T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok = p.items[id]
	if !ok {
		return obj, false
	}
	p.release(id)
	return obj, true
}

// TakeIf is like Take but only removes the mapping if match accepts the
// object id currently points to. match runs with the pool lock held.
func (p *Pool[T]) TakeIf(id int, match func(obj T) bool) (obj T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok = p.items[id]
	if !ok || !match(obj) {
		var zero T
		return zero, false
	}
	p.release(id)
	return obj, true
}

// Release removes the mapping for id. Releasing an unknown handle is a
// no-op.
func (p *Pool[T]) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[id]; ok {
		p.release(id)
	}
}

func (p *Pool[T]) release(id int) {
	delete(p.items, id)
	if id == p.next-1 {
		p.next--
		// fold trailing free handles back into next
		for {
			max, ok := p.free.Max()
			if !ok || max != p.next-1 {
				break
			}
			p.free.DeleteMax()
			p.next--
		}
		return
	}
	p.free.ReplaceOrInsert(id)
}

// Len returns the number of live handles.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Range calls f for every live handle in ascending order until f
// returns false. f runs without the pool lock held, on a snapshot taken
// when Range was called.
func (p *Pool[T]) Range(f func(id int, obj T) bool) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.items))
	for id := range p.items {
		ids = append(ids, id)
	}
	objs := make(map[int]T, len(p.items))
	for id, obj := range p.items {
		objs[id] = obj
	}
	p.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		if !f(id, objs[id]) {
			return
		}
	}
}
