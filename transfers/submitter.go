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
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fair-research/concierge/globus"
	"github.com/fair-research/concierge/manifests"
)

var (
	transfersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_transfers_submitted_total",
		Help: "Transfer jobs accepted by the transfer network",
	})
	transfersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_transfers_rejected_total",
		Help: "Transfer job submissions rejected or failed",
	})
)

// This interface provides the transfer network operations submission needs;
// the globus transfer client satisfies it.
type SubmitClient interface {
	Activate(endpoint uuid.UUID) error
	ListDirectory(endpoint uuid.UUID, path string) (globus.Listing, error)
	Submit(spec globus.TransferSpec) (uuid.UUID, error)
}

// options controlling a submission; zero values take the configured defaults
type SubmitOptions struct {
	// transfer label shown in the transfer network's UI
	Label string
	// sync level name ("exists", "size", "mtime", "checksum")
	SyncLevel string
	// ask the transfer network to verify checksums after transfer
	VerifyChecksums bool
}

// Submits a transfer for every endpoint in the catalog, pulling each
// endpoint's path pairs to the given destination. The destination and all
// source endpoints are activated up front; an activation failure stops the
// whole submission with an error naming the endpoint. Submissions are
// fail-fast: on the first rejected job, the task ids already accepted are
// returned along with the error, and the remaining endpoints are not
// attempted. (Earlier generations of this service disagreed with themselves
// about whether to continue after a failed endpoint; this one commits to
// fail-fast so callers never get a silently incomplete set.)
func Submit(client SubmitClient, catalog manifests.TransferCatalog,
	destination globus.EndpointLocation, opts SubmitOptions) ([]uuid.UUID, error) {

	syncLevel, err := globus.SyncLevel(opts.SyncLevel)
	if err != nil {
		return nil, &globus.TransferError{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		}
	}

	// activate the destination and make sure the destination path exists
	if err := client.Activate(destination.Endpoint); err != nil {
		return nil, activationError(destination.Endpoint, err)
	}
	if _, err := client.ListDirectory(destination.Endpoint, destination.Path); err != nil {
		return nil, &globus.TransferError{
			StatusCode: http.StatusBadRequest,
			Message: fmt.Sprintf("Could not transfer to %s%s: %s",
				destination.Endpoint.String(), destination.Path, err.Error()),
		}
	}

	// activate every source endpoint before submitting anything
	endpoints := catalog.Endpoints()
	for _, endpoint := range endpoints {
		if err := client.Activate(endpoint); err != nil {
			return nil, activationError(endpoint, err)
		}
	}

	var taskIds []uuid.UUID
	for _, endpoint := range endpoints {
		pairs := catalog[endpoint]
		items := make([]globus.TransferItem, len(pairs))
		for i, pair := range pairs {
			item := globus.TransferItem{
				SourcePath:      pair.Source,
				DestinationPath: path.Join(destination.Path, strings.TrimPrefix(pair.Dest, "/")),
			}
			if strings.HasSuffix(pair.Source, "/") {
				// a trailing slash marks a directory, copied recursively
				item.Recursive = true
			} else if pair.Checksum != nil {
				item.Checksum = pair.Checksum.Value
				item.ChecksumAlgorithm = pair.Checksum.Algorithm
			}
			items[i] = item
		}
		slog.Debug(fmt.Sprintf("Submitting transfer of %d item(s) from %s to %s",
			len(items), endpoint.String(), destination.Endpoint.String()))
		taskId, err := client.Submit(globus.TransferSpec{
			Source:         endpoint,
			Destination:    destination.Endpoint,
			Items:          items,
			Label:          opts.Label,
			SyncLevel:      syncLevel,
			VerifyChecksum: opts.VerifyChecksums,
		})
		if err != nil {
			// fail fast: report what was already accepted along with the error
			transfersRejected.Inc()
			return taskIds, err
		}
		transfersSubmitted.Inc()
		taskIds = append(taskIds, taskId)
	}
	slog.Info(fmt.Sprintf("Submitted %d transfer(s) to destination %s",
		len(taskIds), destination.Endpoint.String()))
	return taskIds, nil
}

func activationError(endpoint uuid.UUID, err error) error {
	return &globus.TransferError{
		StatusCode: http.StatusBadRequest,
		Message: fmt.Sprintf("Couldn't activate endpoint %s: %s",
			endpoint.String(), err.Error()),
	}
}
