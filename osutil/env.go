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

package osutil

import (
	"os"
	"strconv"
	"time"
)

// GetenvBool returns whether the given key may be considered "set" in the
// environment (i.e. it is set to one of "1", "true", etc).
//
// An optional second argument can be provided, which determines how to
// treat missing or unparsable values; default is to treat them as false.
func GetenvBool(key string, dflt ...bool) bool {
	val := os.Getenv(key)
	if val == "" {
		if len(dflt) > 0 {
			return dflt[0]
		}

		return false
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		if len(dflt) > 0 {
			return dflt[0]
		}

		return false
	}

	return b
}

// GetenvDuration interprets the value of the given key as a
// time.Duration ("120ms", "2s"). Missing or unparsable values yield
// dflt.
func GetenvDuration(key string, dflt time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return dflt
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return dflt
	}
	return d
}

// GetenvString returns the value of key, or dflt when it is unset or
// empty.
func GetenvString(key, dflt string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return dflt
}
