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
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/ppd/config"
	"github.com/snapcore/ppd/journal"
	"github.com/snapcore/ppd/pp"
)

var shortJournalHelp = "List delivered events"
var longJournalHelp = `
The journal command lists the events recorded in the event journal,
oldest first. The journal can only be read while the daemon is not
running.
`

type cmdJournal struct {
	Path  string `long:"path" description:"Journal to read instead of the configured one" value-name:"<path>"`
	Since uint64 `long:"since" description:"Skip entries before this sequence number"`
	Limit int    `long:"limit" description:"Show at most this many entries"`
	JSON  bool   `long:"json" description:"Print the entries as JSON"`
}

func init() {
	addCommand("journal", shortJournalHelp, longJournalHelp, func() flags.Commander { return &cmdJournal{} })
}

func (x *cmdJournal) journalPath() (string, error) {
	if x.Path != "" {
		return x.Path, nil
	}
	cfg, err := config.Load(optionsData.Config)
	if err != nil {
		return "", err
	}
	if cfg.Journal.Path == "" {
		return "", fmt.Errorf("the event journal is disabled")
	}
	return cfg.Journal.Path, nil
}

func (x *cmdJournal) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if x.Limit < 0 {
		return fmt.Errorf("invalid limit %d", x.Limit)
	}
	path, err := x.journalPath()
	if err != nil {
		return err
	}
	j, err := journal.Open(path, 0)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(x.Since, x.Limit)
	if err != nil {
		return err
	}

	if x.JSON {
		enc := json.NewEncoder(Stdout)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []journal.Entry{}
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(Stderr, "No events recorded.")
		return nil
	}
	w := tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
	fmt.Fprintln(w, "Seq\tRecorded\tJob\tDevice\tClient\tCommand\tSrc\tDst")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%d\t%d\n", e.Seq,
			e.Recorded.UTC().Format(time.RFC3339), e.PropID, e.DevID, e.Client,
			e.Command, e.Event.BufIDs[pp.DirSrc], e.Event.BufIDs[pp.DirDst])
	}
	return w.Flush()
}
