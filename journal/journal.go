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

// Package journal keeps a persistent record of the events delivered to
// clients.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/snapcore/ppd/pp"
)

var eventsBucket = []byte("events")

var timeNow = time.Now

// Entry is one delivered event.
type Entry struct {
	Seq      uint64     `json:"seq"`
	Recorded time.Time  `json:"recorded"`
	PropID   int        `json:"prop-id"`
	DevID    int        `json:"dev-id"`
	Client   int        `json:"client"`
	Command  pp.Command `json:"command"`
	Event    pp.Event   `json:"event"`
}

// Journal is a pp.Observer storing EventDelivered notices in a bolt
// database.
type Journal struct {
	db         *bolt.DB
	maxEntries int
}

// Open opens or creates the journal at path. With maxEntries > 0 the
// oldest entries are dropped to keep at most that many.
func Open(path string, maxEntries int) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot initialize journal: %v", err)
	}
	return &Journal{db: db, maxEntries: maxEntries}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Notify records delivered events and ignores every other notice.
func (j *Journal) Notify(n *pp.Notice) error {
	if n.Kind != pp.EventDelivered || n.Event == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(&Entry{
			Seq:      seq,
			Recorded: timeNow(),
			PropID:   n.PropID,
			DevID:    n.DevID,
			Client:   n.Client,
			Command:  n.Command,
			Event:    *n.Event,
		})
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return j.trim(b, seq)
	})
}

// trim drops the oldest entries beyond maxEntries. Sequence numbers
// only have gaps at the front, so the entry count follows from the
// first and the last key.
func (j *Journal) trim(b *bolt.Bucket, last uint64) error {
	if j.maxEntries <= 0 {
		return nil
	}
	first, _ := b.Cursor().First()
	if first == nil {
		return nil
	}
	oldest := binary.BigEndian.Uint64(first)
	count := last - oldest + 1
	if count <= uint64(j.maxEntries) {
		return nil
	}
	for seq := oldest; seq <= last-uint64(j.maxEntries); seq++ {
		if err := b.Delete(seqKey(seq)); err != nil {
			return err
		}
	}
	return nil
}

var errStop = errors.New("stop")

// List returns up to limit entries with a sequence number of at least
// since, oldest first. A limit of 0 means no limit.
func (j *Journal) List(since uint64, limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(since)); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) == limit {
				return errStop
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("cannot decode journal entry %d: %v", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil && err != errStop {
		return nil, err
	}
	return entries, nil
}
