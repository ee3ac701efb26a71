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

// Package config loads the configuration of the post-processing daemon.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/snapcore/ppd/loopdev"
	"github.com/snapcore/ppd/osutil"
	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

const (
	DefaultSocket      = "/run/ppd.socket"
	DefaultJournalPath = "/var/lib/ppd/journal.db"
)

// Config is the daemon configuration.
type Config struct {
	Socket  string  `yaml:"socket"`
	Debug   bool    `yaml:"debug"`
	Journal Journal `yaml:"journal"`
	DBus    DBus    `yaml:"dbus"`
	Limits  Limits  `yaml:"limits"`
	// Devices are the loopback devices to register.
	Devices []Device `yaml:"devices"`
}

type Journal struct {
	// Path is where delivered events are recorded, empty disables
	// the journal.
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max-entries"`
}

type DBus struct {
	Enabled bool `yaml:"enabled"`
	// Events also signals every delivered event.
	Events bool `yaml:"events"`
}

type Limits struct {
	StartTimeout   time.Duration `yaml:"start-timeout"`
	StopTimeout    time.Duration `yaml:"stop-timeout"`
	PauseTimeout   time.Duration `yaml:"pause-timeout"`
	MaxQueueDepth  int           `yaml:"max-queue-depth"`
	EventSpace     int           `yaml:"event-space"`
	MaxJobs        int           `yaml:"max-jobs"`
	MaxDevices     int           `yaml:"max-devices"`
	MaxClients     int           `yaml:"max-clients"`
	EventQueueSize int           `yaml:"event-queue-size"`
	MaxBuffers     int           `yaml:"max-buffers"`
}

// Device describes a loopback device.
type Device struct {
	Name       string          `yaml:"name"`
	Latency    time.Duration   `yaml:"latency"`
	SrcFormats []pixfmt.Format `yaml:"src-formats"`
	DstFormats []pixfmt.Format `yaml:"dst-formats"`
	MinSize    Size            `yaml:"min-size"`
	MaxSize    Size            `yaml:"max-size"`
	Commands   []string        `yaml:"commands"`
	Rotate     bool            `yaml:"rotate"`
	Flip       bool            `yaml:"flip"`
	Scale      bool            `yaml:"scale"`
	CSC        bool            `yaml:"csc"`
	Crop       bool            `yaml:"crop"`
}

// Size is an image size written as WIDTHxHEIGHT.
type Size pp.Size

func (sz *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseSize(s)
	if err != nil {
		return err
	}
	*sz = Size(parsed)
	return nil
}

// ParseSize parses a WIDTHxHEIGHT image size.
func ParseSize(s string) (pp.Size, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return pp.Size{}, fmt.Errorf("invalid size %q", s)
	}
	hsize, err1 := strconv.ParseUint(w, 10, 32)
	vsize, err2 := strconv.ParseUint(h, 10, 32)
	if err1 != nil || err2 != nil {
		return pp.Size{}, fmt.Errorf("invalid size %q", s)
	}
	return pp.Size{HSize: uint32(hsize), VSize: uint32(vsize)}, nil
}

func (sz Size) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%dx%d", sz.HSize, sz.VSize), nil
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	opts := pp.DefaultOptions()
	return &Config{
		Socket: DefaultSocket,
		Journal: Journal{
			Path:       DefaultJournalPath,
			MaxEntries: 10000,
		},
		Limits: Limits{
			StartTimeout:   opts.StartTimeout,
			StopTimeout:    opts.StopTimeout,
			PauseTimeout:   opts.PauseTimeout,
			MaxQueueDepth:  opts.MaxQueueDepth,
			EventSpace:     opts.EventSpace,
			MaxJobs:        opts.MaxJobs,
			MaxDevices:     opts.MaxDevices,
			MaxClients:     opts.MaxClients,
			EventQueueSize: opts.EventQueueSize,
			MaxBuffers:     1024,
		},
		Devices: []Device{{
			Name:    "loop0",
			Latency: loopdev.DefaultLatency,
			MaxSize: Size{HSize: 4096, VSize: 4096},
			Rotate:  true,
			Flip:    true,
			Scale:   true,
			CSC:     true,
			Crop:    true,
		}},
	}
}

// Load reads the configuration at path over the defaults, applies the
// environment overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("cannot read configuration: %v", err)
	default:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse configuration %s: %v", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.Socket = osutil.GetenvString("PPD_SOCKET", cfg.Socket)
	cfg.Debug = osutil.GetenvBool("PPD_DEBUG", cfg.Debug)
	cfg.Limits.StartTimeout = osutil.GetenvDuration("PPD_START_TIMEOUT", cfg.Limits.StartTimeout)
}

// Validate checks the configuration for values the daemon cannot run
// with.
func (cfg *Config) Validate() error {
	if cfg.Socket == "" {
		return fmt.Errorf("invalid configuration: empty socket path")
	}
	l := &cfg.Limits
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"start-timeout", l.StartTimeout},
		{"stop-timeout", l.StopTimeout},
		{"pause-timeout", l.PauseTimeout},
	} {
		if t.d <= 0 {
			return fmt.Errorf("invalid configuration: %s must be positive", t.name)
		}
	}
	for _, t := range []struct {
		name string
		v    int
	}{
		{"max-queue-depth", l.MaxQueueDepth},
		{"event-space", l.EventSpace},
		{"event-queue-size", l.EventQueueSize},
	} {
		if t.v <= 0 {
			return fmt.Errorf("invalid configuration: %s must be positive", t.name)
		}
	}
	if l.EventSpace < pp.EventSize {
		return fmt.Errorf("invalid configuration: event-space must hold at least one event of %d bytes", pp.EventSize)
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		dev := &cfg.Devices[i]
		if dev.Name == "" {
			return fmt.Errorf("invalid configuration: device %d has no name", i)
		}
		if seen[dev.Name] {
			return fmt.Errorf("invalid configuration: duplicate device %q", dev.Name)
		}
		seen[dev.Name] = true
		if _, err := dev.Loopback(); err != nil {
			return fmt.Errorf("invalid configuration: device %q: %v", dev.Name, err)
		}
	}
	return nil
}

// Options returns the manager options for the configured limits.
func (cfg *Config) Options() *pp.Options {
	l := &cfg.Limits
	return &pp.Options{
		StartTimeout:   l.StartTimeout,
		StopTimeout:    l.StopTimeout,
		PauseTimeout:   l.PauseTimeout,
		MaxQueueDepth:  l.MaxQueueDepth,
		EventSpace:     l.EventSpace,
		MaxJobs:        l.MaxJobs,
		MaxDevices:     l.MaxDevices,
		MaxClients:     l.MaxClients,
		EventQueueSize: l.EventQueueSize,
	}
}

// Loopback returns the loopback device configuration.
func (dev *Device) Loopback() (loopdev.Config, error) {
	lc := loopdev.Config{
		Name:    dev.Name,
		Latency: dev.Latency,
		MinSize: pp.Size(dev.MinSize),
		MaxSize: pp.Size(dev.MaxSize),
		Rotate:  dev.Rotate,
		Flip:    dev.Flip,
		Scale:   dev.Scale,
		CSC:     dev.CSC,
		Crop:    dev.Crop,
	}
	if dev.Latency < 0 {
		return lc, fmt.Errorf("negative latency")
	}
	for dir, formats := range [pp.NumDirections][]pixfmt.Format{dev.SrcFormats, dev.DstFormats} {
		for _, f := range formats {
			if !f.Known() {
				return lc, fmt.Errorf("unsupported %s format %s", pp.Direction(dir), f)
			}
		}
		lc.Formats[dir] = formats
	}
	if max := lc.MaxSize; max.HSize != 0 && max.VSize != 0 {
		if lc.MinSize.HSize > max.HSize || lc.MinSize.VSize > max.VSize {
			return lc, fmt.Errorf("min-size above max-size")
		}
	}
	if (lc.MaxSize.HSize == 0) != (lc.MaxSize.VSize == 0) {
		return lc, fmt.Errorf("zero max-size dimension")
	}
	for _, name := range dev.Commands {
		var cmd pp.Command
		if err := cmd.UnmarshalText([]byte(name)); err != nil {
			return lc, err
		}
		lc.Commands = append(lc.Commands, cmd)
	}
	return lc, nil
}
