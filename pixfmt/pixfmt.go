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

// Package pixfmt knows about the pixel formats the post-processor
// handles and how their planes are laid out in memory.
package pixfmt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Format is a DRM style fourcc pixel format code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	// packed RGB
	XRGB8888 = fourcc('X', 'R', '2', '4')
	ARGB8888 = fourcc('A', 'R', '2', '4')
	RGB565   = fourcc('R', 'G', '1', '6')

	// packed YUV
	YUYV = fourcc('Y', 'U', 'Y', 'V')
	UYVY = fourcc('U', 'Y', 'V', 'Y')

	// two plane YUV
	NV12 = fourcc('N', 'V', '1', '2')
	NV21 = fourcc('N', 'V', '2', '1')
	NV16 = fourcc('N', 'V', '1', '6')
	NV61 = fourcc('N', 'V', '6', '1')
	// NV12MT is NV12 in 64x32 macro tiles.
	NV12MT = fourcc('T', 'M', '1', '2')

	// three plane YUV
	YUV410 = fourcc('Y', 'U', 'V', '9')
	YVU410 = fourcc('Y', 'V', 'U', '9')
	YUV411 = fourcc('Y', 'U', '1', '1')
	YVU411 = fourcc('Y', 'V', '1', '1')
	YUV420 = fourcc('Y', 'U', '1', '2')
	YVU420 = fourcc('Y', 'V', '1', '2')
	YUV422 = fourcc('Y', 'U', '1', '6')
	YVU422 = fourcc('Y', 'V', '1', '6')
	YUV444 = fourcc('Y', 'U', '2', '4')
	YVU444 = fourcc('Y', 'V', '2', '4')
)

type layout int

const (
	layoutPacked layout = iota
	layoutRGB32
	layoutTwoPlane
	layoutTiled
	layoutThreePlane
)

type info struct {
	name   string
	layout layout
	planes int
}

var formats = map[Format]info{
	XRGB8888: {"XRGB8888", layoutRGB32, 1},
	ARGB8888: {"ARGB8888", layoutPacked, 1},
	RGB565:   {"RGB565", layoutPacked, 1},
	YUYV:     {"YUYV", layoutPacked, 1},
	UYVY:     {"UYVY", layoutPacked, 1},
	NV12:     {"NV12", layoutTwoPlane, 2},
	NV21:     {"NV21", layoutTwoPlane, 2},
	NV16:     {"NV16", layoutTwoPlane, 2},
	NV61:     {"NV61", layoutTwoPlane, 2},
	NV12MT:   {"NV12MT", layoutTiled, 2},
	YUV410:   {"YUV410", layoutThreePlane, 3},
	YVU410:   {"YVU410", layoutThreePlane, 3},
	YUV411:   {"YUV411", layoutThreePlane, 3},
	YVU411:   {"YVU411", layoutThreePlane, 3},
	YUV420:   {"YUV420", layoutThreePlane, 3},
	YVU420:   {"YVU420", layoutThreePlane, 3},
	YUV422:   {"YUV422", layoutThreePlane, 3},
	YVU422:   {"YVU422", layoutThreePlane, 3},
	YUV444:   {"YUV444", layoutThreePlane, 3},
	YVU444:   {"YVU444", layoutThreePlane, 3},
}

// Known returns whether f is a format this package can lay out.
func (f Format) Known() bool {
	_, ok := formats[f]
	return ok
}

// Planes returns the number of memory planes used by f, or 1 for
// unknown formats.
func (f Format) Planes() int {
	if i, ok := formats[f]; ok {
		return i.planes
	}
	return 1
}

func (f Format) String() string {
	if i, ok := formats[f]; ok {
		return i.name
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}

// ParseFormat returns the format with the given name, e.g. "NV12".
func ParseFormat(name string) (Format, error) {
	up := strings.ToUpper(name)
	for f, i := range formats {
		if i.name == up {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", name)
}

// MarshalYAML implements yaml.Marshaler.
func (f Format) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Format) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseFormat(name)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler. The zero format, used
// for unconfigured images, marshals to an empty string.
func (f Format) MarshalText() ([]byte, error) {
	if f == 0 {
		return []byte{}, nil
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*f = 0
		return nil
	}
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// All returns the known formats, sorted by name.
func All() []Format {
	all := make([]Format, 0, len(formats))
	for f := range formats {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		return formats[all[i]].name < formats[all[j]].name
	})
	return all
}

// ErrInvalidSize is returned when the memory backing the planes of a
// buffer is too small for the image it should hold.
var ErrInvalidSize = errors.New("invalid buffer size")
