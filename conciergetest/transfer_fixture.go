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

package conciergetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// a file or directory served by a FakeTransferServer directory listing
type FakeDirEntry struct {
	Name string
	Type string // "file" or "dir"
	Size int64
}

// FakeTransferServer implements the subset of the Globus Transfer API that
// the Concierge talks to: submission IDs, transfer submission, endpoint
// activation, directory listings, task status, and task cancellation.
type FakeTransferServer struct {
	*httptest.Server

	mutex        sync.Mutex
	submissionId uuid.UUID
	listings     map[string][]FakeDirEntry
	statuses     map[uuid.UUID]string

	// task IDs handed out for accepted submissions, in order
	TaskIds []uuid.UUID
	// number of transfer submissions accepted
	Submissions int
	// number of cancellation requests received
	Cancellations int
}

func NewFakeTransferServer() *FakeTransferServer {
	server := &FakeTransferServer{
		submissionId: uuid.New(),
		listings:     make(map[string][]FakeDirEntry),
		statuses:     make(map[uuid.UUID]string),
	}
	server.Server = httptest.NewServer(http.HandlerFunc(server.handle))
	return server
}

// AddListing registers the contents of a directory on an endpoint.
func (server *FakeTransferServer) AddListing(endpoint uuid.UUID, dirPath string, entries []FakeDirEntry) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	server.listings[listingKey(endpoint, dirPath)] = entries
}

// SetTaskStatus sets the status reported for a task ("ACTIVE", "SUCCEEDED",
// "FAILED", "INACTIVE").
func (server *FakeTransferServer) SetTaskStatus(taskId uuid.UUID, status string) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	server.statuses[taskId] = status
}

func listingKey(endpoint uuid.UUID, dirPath string) string {
	return endpoint.String() + ":" + path.Clean(dirPath)
}

func (server *FakeTransferServer) handle(w http.ResponseWriter, r *http.Request) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "AuthenticationFailed",
			"message": "No credentials supplied",
		})
		return
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case strings.HasSuffix(r.URL.Path, "/submission_id"):
		json.NewEncoder(w).Encode(map[string]string{"value": server.submissionId.String()})
	case strings.HasSuffix(r.URL.Path, "/transfer"):
		var request map[string]any
		json.NewDecoder(r.Body).Decode(&request)
		if request["submission_id"] != server.submissionId.String() {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "BadRequest",
				"message": "Submission id mismatch",
			})
			return
		}
		taskId := uuid.New()
		server.TaskIds = append(server.TaskIds, taskId)
		server.Submissions++
		server.statuses[taskId] = "ACTIVE"
		server.submissionId = uuid.New()
		json.NewEncoder(w).Encode(map[string]string{
			"task_id": taskId.String(),
			"code":    "Accepted",
			"message": "The transfer has been accepted",
		})
	case strings.HasSuffix(r.URL.Path, "/autoactivate"):
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "AutoActivated.CachedCredential",
			"message": "Endpoint activated using a cached credential",
		})
	case strings.HasSuffix(r.URL.Path, "/ls"):
		// .../operation/endpoint/<id>/ls
		endpoint, err := uuid.Parse(segments[len(segments)-2])
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		dirPath := r.URL.Query().Get("path")
		entries, found := server.listings[listingKey(endpoint, dirPath)]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "ClientError.NotFound",
				"message": fmt.Sprintf("Directory '%s' not found on endpoint", dirPath),
			})
			return
		}
		listing := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			listing = append(listing, map[string]any{
				"name": entry.Name,
				"type": entry.Type,
				"size": entry.Size,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"DATA_TYPE": "file_list",
			"path":      dirPath,
			"DATA":      listing,
		})
	case strings.HasSuffix(r.URL.Path, "/cancel"):
		server.Cancellations++
		taskId, _ := uuid.Parse(segments[len(segments)-2])
		server.statuses[taskId] = "FAILED"
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "Canceled",
			"message": "The task has been cancelled successfully",
		})
	case len(segments) >= 2 && segments[len(segments)-2] == "task":
		taskId, err := uuid.Parse(segments[len(segments)-1])
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, found := server.statuses[taskId]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "TaskNotFound",
				"message": fmt.Sprintf("Task '%s' not found", taskId),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_id":           taskId.String(),
			"status":            status,
			"files":             2,
			"files_transferred": 2,
			"bytes_transferred": 1024,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "NotFound",
			"message": fmt.Sprintf("No such resource: %s", r.URL.Path),
		})
	}
}
