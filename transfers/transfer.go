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

package transfers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fair-research/concierge/globus"
)

// the status of a transfer task, as reported by the transfer network
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Reports whether the status is terminal. Terminal statuses are sticky: a
// transfer that reaches one is never polled again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// The locally cached state of one transfer task. Fields other than TaskId
// are overwritten on each reconciliation until the status goes terminal.
type Transfer struct {
	TaskId               uuid.UUID `json:"task_id"`
	Status               Status    `json:"status"`
	SourceEndpoint       string    `json:"source_endpoint"`
	DestinationEndpoint  string    `json:"destination_endpoint"`
	Files                int       `json:"files"`
	FilesSkipped         int       `json:"files_skipped"`
	FilesTransferred     int       `json:"files_transferred"`
	BytesTransferred     int64     `json:"bytes_transferred"`
	EffectiveBytesPerSec int64     `json:"effective_bytes_per_second"`
	CompletionTime       time.Time `json:"completion_time,omitempty"`
}

// overwrites the cached fields with the state reported by the transfer
// network
func (xfer *Transfer) update(task globus.Task) {
	xfer.Status = Status(task.Status)
	xfer.SourceEndpoint = task.SourceEndpoint
	xfer.DestinationEndpoint = task.DestinationEndpoint
	xfer.Files = task.Files
	xfer.FilesSkipped = task.FilesSkipped
	xfer.FilesTransferred = task.FilesTransferred
	xfer.BytesTransferred = task.BytesTransferred
	xfer.EffectiveBytesPerSec = task.EffectiveBytesPerSec
	if completionTime, err := time.Parse(time.RFC3339, task.CompletionTime); err == nil {
		xfer.CompletionTime = completionTime
	}
}

// A manifest transfer aggregates the transfer tasks submitted for one
// manifest (one task per source endpoint).
type ManifestTransfer struct {
	// identifier for this manifest transfer
	Id uuid.UUID `json:"id"`
	// identifier of the manifest being transferred
	ManifestId uuid.UUID `json:"manifest_id"`
	// stable subject id of the requesting user
	User string `json:"user"`
	// the member transfers, one per source endpoint
	Transfers []Transfer `json:"transfers"`
	// the catalogs the submission was built from, kept for audit
	Catalog      json.RawMessage `json:"catalog,omitempty"`
	ErrorCatalog json.RawMessage `json:"error_catalog,omitempty"`
	// time at which the transfer was submitted
	SubmissionTime time.Time `json:"submission_time"`
}

// Computes the aggregate status over the member transfers. Failure
// dominates, then in-progress, then success: any FAILED (or upstream
// INACTIVE) member makes the aggregate FAILED; otherwise any ACTIVE member
// makes it ACTIVE; otherwise all members have SUCCEEDED. Aggregating zero
// members is an error.
func (job *ManifestTransfer) AggregateStatus() (Status, error) {
	if len(job.Transfers) == 0 {
		return "", &NoTransfersError{Id: job.Id}
	}
	aggregate := StatusSucceeded
	for _, xfer := range job.Transfers {
		switch xfer.Status {
		case StatusFailed, StatusInactive:
			// a suspended transfer counts as failed
			return StatusFailed, nil
		case StatusSucceeded:
		default:
			aggregate = StatusActive
		}
	}
	return aggregate, nil
}

// reports whether every member transfer has reached a terminal status
// (INACTIVE is not terminal--a suspended transfer can resume, so it keeps
// getting polled even though it drags the aggregate to FAILED)
func (job *ManifestTransfer) completed() bool {
	for _, xfer := range job.Transfers {
		if !xfer.Status.Terminal() {
			return false
		}
	}
	return true
}
