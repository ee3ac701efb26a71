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

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/ppd/client"
	"github.com/snapcore/ppd/config"
	"github.com/snapcore/ppd/pp"
)

var shortDevicesHelp = "List the devices of the running daemon"
var longDevicesHelp = `
The devices command asks the running daemon for its devices and lists
them along with what they can do.
`

type cmdDevices struct{}

func init() {
	addCommand("devices", shortDevicesHelp, longDevicesHelp, func() flags.Commander { return &cmdDevices{} })
}

func capsSummary(caps *pp.Capability) string {
	var notes []string
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"rotate", caps.Rotate},
		{"flip", caps.Flip},
		{"scale", caps.Scale},
		{"csc", caps.CSC},
		{"crop", caps.Crop},
	} {
		if f.ok {
			notes = append(notes, f.name)
		}
	}
	if len(notes) == 0 {
		return "-"
	}
	return strings.Join(notes, ",")
}

func (x *cmdDevices) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	cfg, err := config.Load(optionsData.Config)
	if err != nil {
		return err
	}
	devices, err := client.New(&client.Config{Socket: cfg.Socket}).Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(Stderr, "No devices registered.")
		return nil
	}

	w := tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tName\tJobs\tState\tCommands\tNotes")
	for i := range devices {
		dev := &devices[i]
		state := "active"
		switch {
		case dev.Dedicated != 0:
			state = fmt.Sprintf("dedicated to %d", dev.Dedicated)
		case dev.Suspended:
			state = "suspended"
		}
		cmds := "all"
		if len(dev.Caps.Commands) > 0 {
			names := make([]string, len(dev.Caps.Commands))
			for j, cmd := range dev.Caps.Commands {
				names[j] = cmd.String()
			}
			cmds = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", dev.ID, dev.Name, dev.Jobs, state, cmds, capsSummary(&dev.Caps))
	}
	return w.Flush()
}
