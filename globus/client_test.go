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

package globus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// a fake Globus Transfer API that handles the handful of resources the
// client exercises
func fakeTransferServer(t *testing.T, taskId uuid.UUID) *httptest.Server {
	submissionId := uuid.New()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "AuthenticationFailed",
				"message": "No credentials supplied",
			})
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/submission_id"):
			json.NewEncoder(w).Encode(map[string]string{"value": submissionId.String()})
		case strings.HasSuffix(r.URL.Path, "/transfer"):
			var request map[string]any
			json.NewDecoder(r.Body).Decode(&request)
			if request["submission_id"] != submissionId.String() {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{
					"code":    "BadRequest",
					"message": "Submission id mismatch",
				})
				return
			}
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
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "Canceled",
				"message": "The task has been cancelled successfully",
			})
		case strings.HasSuffix(r.URL.Path, "/ls"):
			json.NewEncoder(w).Encode(map[string]any{
				"DATA_TYPE": "file_list",
				"path":      r.URL.Query().Get("path"),
				"DATA": []map[string]any{
					{"name": "file1.txt", "type": "file", "size": 4},
					{"name": "godata", "type": "dir", "size": 0},
				},
			})
		case strings.Contains(r.URL.Path, "/task/"):
			json.NewEncoder(w).Encode(map[string]any{
				"task_id":           taskId.String(),
				"status":            "ACTIVE",
				"files":             3,
				"files_transferred": 1,
				"bytes_transferred": 1024,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "NotFound",
				"message": fmt.Sprintf("No such resource: %s", r.URL.Path),
			})
		}
	}))
}

func TestClientSubmit(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	taskId := uuid.New()
	server := fakeTransferServer(t, taskId)
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	id, err := client.Submit(TransferSpec{
		Source:      uuid.New(),
		Destination: uuid.New(),
		Label:       "Concierge Transfer",
		SyncLevel:   syncLevels["checksum"],
		Items: []TransferItem{
			{
				SourcePath:        "/share/godata/file1.txt",
				DestinationPath:   "/data/file1.txt",
				Checksum:          "ed2cd597552f8066b5b84a97134d43f8",
				ChecksumAlgorithm: "md5",
			},
		},
	})
	assert.Nil(err)
	assert.Equal(taskId, id)
}

func TestClientActivate(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server := fakeTransferServer(t, uuid.New())
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	err := client.Activate(uuid.New())
	assert.Nil(err)
}

func TestClientTask(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	taskId := uuid.New()
	server := fakeTransferServer(t, taskId)
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	task, err := client.Task(taskId)
	assert.Nil(err)
	assert.Equal(taskId, task.TaskId)
	assert.Equal("ACTIVE", task.Status)
	assert.Equal(3, task.Files)
}

func TestClientCancel(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server := fakeTransferServer(t, uuid.New())
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	err := client.Cancel(uuid.New())
	assert.Nil(err)
}

func TestClientListDirectory(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server := fakeTransferServer(t, uuid.New())
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	listing, err := client.ListDirectory(uuid.New(), "/share/godata")
	assert.Nil(err)
	assert.Equal("dir", listing.Type)
	assert.Len(listing.Entries, 2)
	assert.Equal("file1.txt", listing.Entries[0].Name)
}

func TestClientReportsUpstreamFailureAsUnavailable(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "ServiceUnavailable",
			"message": "The transfer service is down for maintenance",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	_, err := client.Task(uuid.New())
	assert.NotNil(err)
	var xferErr *TransferError
	assert.ErrorAs(err, &xferErr)
	assert.Equal(http.StatusServiceUnavailable, xferErr.StatusCode)
}

func TestClientReportsCallerMistakeAsBadRequest(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "TaskNotFound",
			"message": "No such task",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "s00per-sekrit-token")
	_, err := client.Task(uuid.New())
	assert.NotNil(err)
	var xferErr *TransferError
	assert.ErrorAs(err, &xferErr)
	assert.Equal(http.StatusBadRequest, xferErr.StatusCode)
}
