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

package pixfmt

import (
	"fmt"
)

// MaxPlanes is the most planes any buffer can have.
const MaxPlanes = 3

// Plane is one memory plane of a buffer: where it starts and how many
// bytes are backing it. A zero Base means the plane was not supplied.
type Plane struct {
	Base uint64
	Size uint64
}

const (
	tileAlignH = 128
	tileAlignV = 32
	tileBlock  = 8 << 10
)

func align(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}

// Offsets returns the byte length of each plane of an hsize x vsize
// image in format f. Unused planes and formats without a known layout
// have zero offsets.
func Offsets(f Format, hsize, vsize uint32) [MaxPlanes]uint64 {
	var ofs [MaxPlanes]uint64
	h, v := uint64(hsize), uint64(vsize)
	switch formats[f].layout {
	case layoutTwoPlane:
		ofs[0] = h * v
		ofs[1] = ofs[0] >> 1
	case layoutTiled:
		ofs[0] = align(align(h, tileAlignH)*align(v, tileAlignV), tileBlock)
		ofs[1] = align(align(h, tileAlignH)*align(v>>1, tileAlignV), tileBlock)
	case layoutThreePlane:
		ofs[0] = h * v
		ofs[1] = ofs[0] >> 2
		ofs[2] = ofs[0] >> 2
	case layoutRGB32:
		ofs[0] = h * v << 2
	}
	return ofs
}

// Place checks that the planes of a buffer can hold an hsize x vsize
// image in format f and fills in the bases of the planes that were not
// supplied.
//
// When every plane of a multi-planar format is supplied the planes are
// taken as already placed, and only their total size is checked against
// the image. Otherwise the missing planes are derived from plane 0, each
// following the previous one.
func Place(f Format, hsize, vsize uint32, planes *[MaxPlanes]Plane) error {
	ofs := Offsets(f, hsize, vsize)
	bypass := false

	switch formats[f].layout {
	case layoutTwoPlane, layoutTiled:
		if planes[0].Base != 0 && planes[1].Base != 0 {
			if planes[0].Size+planes[1].Size < ofs[0]+ofs[1] {
				return sizeError(f, hsize, vsize, planes, ofs)
			}
			bypass = true
		}
	case layoutThreePlane:
		if planes[0].Base != 0 && planes[1].Base != 0 && planes[2].Base != 0 {
			if planes[0].Size+planes[1].Size+planes[2].Size < ofs[0]+ofs[1]+ofs[2] {
				return sizeError(f, hsize, vsize, planes, ofs)
			}
			bypass = true
		}
	case layoutRGB32:
		if planes[0].Base != 0 && planes[0].Size < ofs[0] {
			return sizeError(f, hsize, vsize, planes, ofs)
		}
		bypass = true
	default:
		bypass = true
	}

	if !bypass {
		planes[1].Base = planes[0].Base + ofs[0]
		if ofs[1] != 0 && ofs[2] != 0 {
			planes[2].Base = planes[1].Base + ofs[1]
		}
	}
	return nil
}

func sizeError(f Format, hsize, vsize uint32, planes *[MaxPlanes]Plane, ofs [MaxPlanes]uint64) error {
	return fmt.Errorf("%w: %dx%d %s needs %d bytes, planes hold %d",
		ErrInvalidSize, hsize, vsize, f,
		ofs[0]+ofs[1]+ofs[2], planes[0].Size+planes[1].Size+planes[2].Size)
}
