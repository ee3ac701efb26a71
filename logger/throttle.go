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

package logger

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a class of repetitive messages reaches the
// log. Messages over the limit are dropped and counted; the count is
// appended to the next message that gets through.
type Throttle struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	dropped int
}

// NewThrottle returns a Throttle letting through one message every
// interval, with bursts of up to burst messages.
func NewThrottle(every time.Duration, burst int) *Throttle {
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (t *Throttle) format(format string, v ...interface{}) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.limiter.Allow() {
		t.dropped++
		return "", false
	}
	msg := fmt.Sprintf(format, v...)
	if t.dropped > 0 {
		msg = fmt.Sprintf("%s (%d similar messages suppressed)", msg, t.dropped)
		t.dropped = 0
	}
	return msg, true
}

// Noticef is like the package level Noticef but rate-limited.
func (t *Throttle) Noticef(format string, v ...interface{}) {
	if msg, ok := t.format(format, v...); ok {
		Noticef("%s", msg)
	}
}

// Debugf is like the package level Debugf but rate-limited.
func (t *Throttle) Debugf(format string, v ...interface{}) {
	if msg, ok := t.format(format, v...); ok {
		Debugf("%s", msg)
	}
}

// Dropped returns the number of messages suppressed since the last one
// that got through.
func (t *Throttle) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
