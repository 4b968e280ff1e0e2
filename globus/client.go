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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/StalkR/hsts"
	"github.com/google/uuid"
)

// This file implements a client for the Globus Transfer API described at
// https://docs.globus.org/api/transfer/. All calls are scoped to the access
// token the client is constructed with, so one client instance serves one
// delegated credential.

const (
	transferApiVersion = "v0.10"
	requestTimeout     = 30 * time.Second
)

// this type captures results from Globus Transfer API responses, including
// any errors encountered (https://docs.globus.org/api/transfer/overview/#errors)
type transferResult struct {
	// string indicating the Globus error condition (e.g. "EndpointNotFound")
	Code string `json:"code"`
	// error message
	Message string `json:"message"`
}

// sync levels accepted in transfer submissions, in increasing strictness
var syncLevels = map[string]int{
	"exists":   0,
	"size":     1,
	"mtime":    2,
	"checksum": 3,
}

// Returns the numeric sync level for the given name, or an error if the name
// is unrecognized.
func SyncLevel(name string) (int, error) {
	level, found := syncLevels[name]
	if !found {
		return 0, fmt.Errorf("Invalid sync level: '%s'", name)
	}
	return level, nil
}

// A client for the Globus Transfer API, authorized by a single scoped access
// token.
type Client struct {
	// base URL for the Globus Transfer API
	URL string
	// OAuth2 access token (transfer-scoped)
	AccessToken string
	// HTTP client with a timeout and HSTS enabled
	Client http.Client
}

// creates a Transfer API client that makes calls with the given scoped
// access token
func NewClient(transferURL, accessToken string) *Client {
	client := http.Client{Timeout: requestTimeout}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return &Client{
		URL:         transferURL,
		AccessToken: accessToken,
		Client:      client,
	}
}

// performs a GET request on the given resource, returning the resulting
// response and error
func (c *Client) get(resource string, values url.Values) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.URL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("/%s/%s", transferApiVersion, resource)
	u.RawQuery = values.Encode()
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("GET: %s", res))
	req, err := http.NewRequest(http.MethodGet, res, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.AccessToken))
	return c.Client.Do(req)
}

// performs a POST request on the given resource, returning the resulting
// response and error
func (c *Client) post(resource string, body io.Reader) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.URL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("/%s/%s", transferApiVersion, resource)
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("POST: %s", res))
	req, err := http.NewRequest(http.MethodPost, res, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.AccessToken))
	req.Header.Add("Content-Type", "application/json")
	return c.Client.Do(req)
}

// reads the body of a non-2xx response and converts it to a TransferError,
// classifying upstream (5xx) failures as 503 and everything else as a caller
// mistake (400)
func transferError(resp *http.Response) error {
	var result transferResult
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		json.Unmarshal(body, &result)
	}
	statusCode := http.StatusBadRequest
	if resp.StatusCode >= 500 {
		statusCode = http.StatusServiceUnavailable
		slog.Error(fmt.Sprintf("Upstream Globus Transfer error: %s (%s)",
			result.Message, result.Code))
	}
	return &TransferError{
		StatusCode: statusCode,
		Code:       result.Code,
		Message:    result.Message,
	}
}

// Activates the endpoint with the given UUID so it can participate in a
// transfer. An activation failure is reported as a 400-class TransferError
// naming the endpoint.
func (c *Client) Activate(endpoint uuid.UUID) error {
	resource := fmt.Sprintf("endpoint/%s/autoactivate", endpoint.String())
	resp, err := c.post(resource, http.NoBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var result transferResult
	err = json.Unmarshal(body, &result)
	if err != nil {
		return err
	}
	// https://docs.globus.org/api/transfer/endpoint_activation/#response
	if strings.HasPrefix(result.Code, "AutoActivationFailed") {
		return &TransferError{
			StatusCode: http.StatusBadRequest,
			Code:       result.Code,
			Message:    fmt.Sprintf("Couldn't activate endpoint %s: %s", endpoint.String(), result.Message),
		}
	}
	return nil
}

// a single file or directory discovered in a directory listing
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "dir"
	Size int64  `json:"size"`
}

// the result of listing a path: either a single file or the contents of a
// directory
type Listing struct {
	// "file" or "dir"
	Type string
	// absolute path that was listed
	Path string
	// size in bytes (only when Type is "file")
	Size int64
	// the directory's contents (only when Type is "dir")
	Entries []DirEntry
}

// Lists the given path on an endpoint
// (https://docs.globus.org/api/transfer/file_operations/#list_directory_contents).
func (c *Client) ListDirectory(endpoint uuid.UUID, path string) (Listing, error) {
	values := url.Values{}
	values.Add("path", path)
	values.Add("orderby", "name ASC")
	resource := fmt.Sprintf("operation/endpoint/%s/ls", endpoint.String())

	resp, err := c.get(resource, values)
	if err != nil {
		return Listing{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return Listing{}, transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Listing{}, err
	}
	// https://docs.globus.org/api/transfer/file_operations/#dir_listing_response
	var response struct {
		DataType string     `json:"DATA_TYPE"`
		Path     string     `json:"path"`
		Size     int64      `json:"size"`
		Data     []DirEntry `json:"DATA"`
	}
	err = json.Unmarshal(body, &response)
	if err != nil {
		return Listing{}, err
	}
	if response.DataType == "file" { // the path names a single file
		return Listing{
			Type: "file",
			Path: response.Path,
			Size: response.Size,
		}, nil
	}
	return Listing{
		Type:    "dir",
		Path:    response.Path,
		Entries: response.Data,
	}, nil
}

// one item within a transfer job submission
type TransferItem struct {
	// absolute path on the source endpoint
	SourcePath string
	// absolute path on the destination endpoint
	DestinationPath string
	// set for directories, which are copied recursively
	Recursive bool
	// an expected checksum for the file (optional)
	Checksum string
	// the algorithm for the expected checksum (e.g. "sha256")
	ChecksumAlgorithm string
}

// a transfer job submission: all items share one source and one destination
// endpoint
type TransferSpec struct {
	Source         uuid.UUID
	Destination    uuid.UUID
	Items          []TransferItem
	Label          string
	SyncLevel      int
	VerifyChecksum bool
}

// https://docs.globus.org/api/transfer/task_submit/#get_submission_id
func (c *Client) submissionId() (uuid.UUID, error) {
	var id uuid.UUID
	resp, err := c.get("submission_id", url.Values{})
	if err != nil {
		return id, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return id, transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return id, err
	}
	var response struct {
		Value uuid.UUID `json:"value"`
	}
	err = json.Unmarshal(body, &response)
	return response.Value, err
}

// Submits a transfer job, returning the UUID of the resulting transfer task.
// https://docs.globus.org/api/transfer/task_submit/#submit_transfer_task
// https://docs.globus.org/api/transfer/task_submit/#transfer_item_fields
func (c *Client) Submit(spec TransferSpec) (uuid.UUID, error) {
	var taskId uuid.UUID

	submissionId, err := c.submissionId()
	if err != nil {
		return taskId, err
	}

	type transferItem struct {
		DataType          string `json:"DATA_TYPE"` // "transfer_item"
		SourcePath        string `json:"source_path"`
		DestinationPath   string `json:"destination_path"`
		Recursive         bool   `json:"recursive,omitempty"`
		ExternalChecksum  string `json:"external_checksum,omitempty"`
		ChecksumAlgorithm string `json:"checksum_algorithm,omitempty"`
	}
	type submissionRequest struct {
		DataType            string         `json:"DATA_TYPE"` // "transfer"
		Id                  string         `json:"submission_id"`
		Label               string         `json:"label"`
		Data                []transferItem `json:"DATA"`
		DestinationEndpoint string         `json:"destination_endpoint"`
		SourceEndpoint      string         `json:"source_endpoint"`
		SyncLevel           int            `json:"sync_level"`
		VerifyChecksum      bool           `json:"verify_checksum"`
		FailOnQuotaErrors   bool           `json:"fail_on_quota_errors"`
	}
	items := make([]transferItem, len(spec.Items))
	for i, item := range spec.Items {
		items[i] = transferItem{
			DataType:          "transfer_item",
			SourcePath:        item.SourcePath,
			DestinationPath:   item.DestinationPath,
			Recursive:         item.Recursive,
			ExternalChecksum:  item.Checksum,
			ChecksumAlgorithm: item.ChecksumAlgorithm,
		}
	}

	data, err := json.Marshal(submissionRequest{
		DataType:            "transfer",
		Id:                  submissionId.String(),
		Label:               spec.Label,
		Data:                items,
		DestinationEndpoint: spec.Destination.String(),
		SourceEndpoint:      spec.Source.String(),
		SyncLevel:           spec.SyncLevel,
		VerifyChecksum:      spec.VerifyChecksum,
		FailOnQuotaErrors:   true,
	})
	if err != nil {
		return taskId, err
	}
	resp, err := c.post("transfer", bytes.NewReader(data))
	if err != nil {
		return taskId, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return taskId, transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return taskId, err
	}
	var gResp struct {
		TaskId       uuid.UUID `json:"task_id"`
		SubmissionId uuid.UUID `json:"submission_id"`
		Code         string    `json:"code"`
		Message      string    `json:"message"`
	}
	err = json.Unmarshal(body, &gResp)
	if err != nil {
		return taskId, err
	}
	taskId = gResp.TaskId
	var zeroId uuid.UUID
	if taskId == zeroId { // trouble!
		return taskId, &TransferError{
			StatusCode: http.StatusBadRequest,
			Code:       gResp.Code,
			Message:    gResp.Message,
		}
	}
	return taskId, nil
}

// the state of a transfer task as reported by the Transfer API
// (https://docs.globus.org/api/transfer/task/#task_document)
type Task struct {
	TaskId               uuid.UUID `json:"task_id"`
	Status               string    `json:"status"` // ACTIVE/INACTIVE/SUCCEEDED/FAILED
	SourceEndpoint       string    `json:"source_endpoint_display_name"`
	DestinationEndpoint  string    `json:"destination_endpoint_display_name"`
	Files                int       `json:"files"`
	FilesSkipped         int       `json:"files_skipped"`
	FilesTransferred     int       `json:"files_transferred"`
	BytesTransferred     int64     `json:"bytes_transferred"`
	EffectiveBytesPerSec int64     `json:"effective_bytes_per_second"`
	CompletionTime       string    `json:"completion_time"`
	IsPaused             bool      `json:"is_paused"`
}

// Fetches the current state of the transfer task with the given UUID.
func (c *Client) Task(id uuid.UUID) (Task, error) {
	resource := fmt.Sprintf("task/%s", id.String())
	resp, err := c.get(resource, url.Values{})
	if err != nil {
		return Task{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return Task{}, transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Task{}, err
	}
	var task Task
	err = json.Unmarshal(body, &task)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// Requests cancellation of the transfer task with the given UUID. The call is
// idempotent: a task that has already finished ("TaskComplete") or has
// already been canceled counts as success.
// https://docs.globus.org/api/transfer/task/#cancel_task_by_id
func (c *Client) Cancel(id uuid.UUID) error {
	resource := fmt.Sprintf("task/%s/cancel", id.String())
	resp, err := c.post(resource, http.NoBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return transferError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var result transferResult
	err = json.Unmarshal(body, &result)
	if err != nil {
		return err
	}
	switch result.Code {
	case "Canceled", "CancelAccepted", "TaskComplete":
		return nil
	}
	return &TransferError{
		StatusCode: http.StatusBadRequest,
		Code:       result.Code,
		Message:    result.Message,
	}
}
