// Copyright (c) 2020 The Fair Research Concierge Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// The journal package maintains the concierge's local records: manifests
// registered with the service, completed transfer outcomes, and encrypted
// delegated-token records. Everything lives in a single bolt database inside
// the service's data directory, one bucket per record kind.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/fair-research/concierge/config"
)

const journalFile = "concierge_journal.db"

// bucket names (a bolt database is a set of key/value buckets)
var (
	manifestsBucket = []byte("manifests")
	transfersBucket = []byte("transfers")
	tokensBucket    = []byte("tokens")
)

// a record of a manifest registered with the service
type ManifestRecord struct {
	// unique ID assigned when the manifest was registered
	Id uuid.UUID `json:"id"`
	// stable subject id of the registering user
	User string `json:"user"`
	// persistent identifier minted for the manifest (if any)
	Identifier string `json:"identifier,omitempty"`
	// location of the serialized manifest blob (if any)
	Location string `json:"location,omitempty"`
	// the manifest entries as uploaded
	Manifest json.RawMessage `json:"manifest"`
	// time at which the manifest was registered
	CreationTime time.Time `json:"creation_time"`
}

// a record of a completed transfer task
type TransferRecord struct {
	// the Globus task ID
	TaskId uuid.UUID `json:"task_id"`
	// time at which the outcome was recorded
	Time time.Time `json:"time"`
	// the transfer outcome (status, file/byte counters, times)
	Detail json.RawMessage `json:"detail"`
}

// Journal stores the concierge's records in a bolt database. A Journal is
// safe for concurrent use; bolt serializes its transactions internally.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the journal database in the service's
// data directory.
func Open(serviceConfig config.ServiceConfig) (*Journal, error) {
	file := filepath.Join(serviceConfig.DataDirectory, journalFile)
	slog.Info(fmt.Sprintf("Opening journal database %s...", file))
	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &OpenError{File: file, Message: err.Error()}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{manifestsBucket, transfersBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &OpenError{File: file, Message: err.Error()}
	}
	return &Journal{db: db}, nil
}

// Close closes the journal database. The journal cannot be used afterward.
func (j *Journal) Close() error {
	if j.db == nil {
		return &NotOpenError{}
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// SaveManifest writes a manifest record, keyed by its ID. Saving a record
// with an existing ID overwrites the previous record.
func (j *Journal) SaveManifest(record ManifestRecord) error {
	if j.db == nil {
		return &NotOpenError{}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Bucket: "manifest", Message: err.Error()}
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestsBucket).Put([]byte(record.Id.String()), data)
	})
	if err != nil {
		return &WriteError{Bucket: "manifest", Message: err.Error()}
	}
	return nil
}

// Manifest fetches the manifest record with the given ID.
func (j *Journal) Manifest(id uuid.UUID) (ManifestRecord, error) {
	var record ManifestRecord
	if j.db == nil {
		return record, &NotOpenError{}
	}
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(manifestsBucket).Get([]byte(id.String()))
		if data == nil {
			return &ManifestNotFoundError{Id: id}
		}
		return json.Unmarshal(data, &record)
	})
	return record, err
}

// RecordTransfer records the outcome of a completed transfer task, keyed by
// the current time so records can be fetched by time range.
func (j *Journal) RecordTransfer(taskId uuid.UUID, detail []byte) error {
	if j.db == nil {
		return &NotOpenError{}
	}
	record := TransferRecord{
		TaskId: taskId,
		Time:   time.Now().UTC(),
		Detail: detail,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Bucket: "transfer", Message: err.Error()}
	}
	key := transferKey(record.Time, taskId)
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transfersBucket).Put(key, data)
	})
	if err != nil {
		return &WriteError{Bucket: "transfer", Message: err.Error()}
	}
	return nil
}

// the layout must be fixed-width so the keys sort lexicographically by time
// (RFC3339Nano trims trailing fractional zeros and doesn't)
const transferKeyLayout = "2006-01-02T15:04:05.000000000Z"

// returns the bucket key for a transfer record; the task ID suffix keeps
// records with identical timestamps distinct
func transferKey(completionTime time.Time, taskId uuid.UUID) []byte {
	return []byte(completionTime.UTC().Format(transferKeyLayout) + "|" + taskId.String())
}

// Transfers fetches the records of transfers completed within the given time
// interval (inclusive), in chronological order.
func (j *Journal) Transfers(start, stop time.Time) ([]TransferRecord, error) {
	if j.db == nil {
		return nil, &NotOpenError{}
	}
	// fixed-width UTC timestamps sort lexicographically, so a cursor seek
	// bounded by the formatted interval walks exactly the records inside it
	startKey := []byte(start.UTC().Format(transferKeyLayout))
	stopKey := []byte(stop.UTC().Format(transferKeyLayout) + "~")
	records := make([]TransferRecord, 0)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(transfersBucket).Cursor()
		for k, v := c.Seek(startKey); k != nil && string(k) <= string(stopKey); k, v = c.Next() {
			var record TransferRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// SaveToken stores an encrypted token record under its token digest.
func (j *Journal) SaveToken(digest string, record []byte) error {
	if j.db == nil {
		return &NotOpenError{}
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(digest), record)
	})
	if err != nil {
		return &WriteError{Bucket: "token", Message: err.Error()}
	}
	return nil
}

// LoadToken fetches the encrypted token record with the given digest,
// returning nil if there is none.
func (j *Journal) LoadToken(digest string) ([]byte, error) {
	if j.db == nil {
		return nil, &NotOpenError{}
	}
	var record []byte
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(tokensBucket).Get([]byte(digest))
		if data != nil {
			record = make([]byte, len(data))
			copy(record, data)
		}
		return nil
	})
	return record, err
}

// DeleteToken removes the token record with the given digest. Deleting a
// record that does not exist is not an error.
func (j *Journal) DeleteToken(digest string) error {
	if j.db == nil {
		return &NotOpenError{}
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(digest))
	})
}
