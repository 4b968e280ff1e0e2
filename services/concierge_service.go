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

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fair-research/concierge/manifests"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"Concierge" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a request to register a manifest (POST)
type ManifestRequest struct {
	// the remote file manifest itself
	Manifest []manifests.RemoteFileEntry `json:"manifest" doc:"the remote file manifest to register"`
	// if true, every entry must carry a checksum
	RequireChecksum bool `json:"require_checksum,omitempty" doc:"reject entries without a checksum"`
	// if true, the manifest is expanded and checked against the live endpoints
	Verify bool `json:"verify,omitempty" doc:"expand and check the manifest against the remote endpoints"`
	// if true, a test identifier is minted for the manifest
	Test bool `json:"test,omitempty" doc:"mint a test identifier instead of a production one"`
	// additional metadata recorded with the manifest's identifier
	Metadata map[string]any `json:"metadata,omitempty" doc:"metadata attached to the minted identifier"`
}

// a response for a manifest registration (POST)
type ManifestResponse struct {
	// manifest ID assigned by the service
	Id uuid.UUID `json:"id" doc:"a UUID for the registered manifest"`
	// persistent identifier minted for the manifest (if any)
	Identifier string `json:"identifier,omitempty"`
	// location of the serialized manifest blob (if any)
	Location string `json:"location,omitempty"`
	// number of entries in the (possibly expanded) manifest
	NumFiles int `json:"num_files"`
}

// a response for a manifest record query (GET)
type ManifestRecordResponse struct {
	Id           uuid.UUID       `json:"id"`
	User         string          `json:"user"`
	Identifier   string          `json:"identifier,omitempty"`
	Location     string          `json:"location,omitempty"`
	Manifest     json.RawMessage `json:"manifest"`
	CreationTime time.Time       `json:"creation_time"`
}

// a request to transfer a registered manifest (POST)
type TransferRequest struct {
	// where the manifest's files land, as a Globus URL
	Destination string `json:"destination" example:"globus://ddb59aef-6d04-11e5-ba46-22000b92c6ec/~/data" doc:"destination endpoint and path"`
	// transfer label shown in the transfer network's UI
	Label string `json:"label,omitempty"`
	// sync level name; the service default applies when empty
	SyncLevel string `json:"sync_level,omitempty" example:"checksum"`
	// if true, files are rerouted under a directory named after the manifest
	BagDirs bool `json:"bag_dirs,omitempty"`
}

// a response for a manifest transfer request (POST)
type TransferResponse struct {
	// transfer job ID
	Id uuid.UUID `json:"id" doc:"a UUID for the requested transfer"`
	// task ids accepted by the transfer network, one per source endpoint
	TaskIds []uuid.UUID `json:"task_ids"`
	// entries that could not be transferred, grouped by reason
	ErrorCatalog manifests.ErrorCatalog `json:"error_catalog,omitempty"`
}

// one member task in a transfer status response
type TransferMemberResponse struct {
	TaskId           uuid.UUID `json:"task_id"`
	Status           string    `json:"status"`
	Files            int       `json:"files"`
	FilesTransferred int       `json:"files_transferred"`
	BytesTransferred int64     `json:"bytes_transferred"`
	CompletionTime   time.Time `json:"completion_time,omitempty"`
}

// a response for a transfer status request (GET)
type TransferStatusResponse struct {
	// transfer job ID
	Id uuid.UUID `json:"id"`
	// the manifest being transferred
	ManifestId uuid.UUID `json:"manifest_id"`
	// aggregate status across all member tasks
	Status string `json:"status"`
	// per-task statuses
	Transfers []TransferMemberResponse `json:"transfers"`
}

// ConciergeService defines the interface for the manifest transfer service.
type ConciergeService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
