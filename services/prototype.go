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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/fair-research/concierge/auth"
	"github.com/fair-research/concierge/config"
	"github.com/fair-research/concierge/globus"
	"github.com/fair-research/concierge/identifiers"
	"github.com/fair-research/concierge/journal"
	"github.com/fair-research/concierge/manifests"
	"github.com/fair-research/concierge/transfers"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// manifest blobs go to a store that reports where it put them
type ManifestStore interface {
	SaveManifest(id uuid.UUID, manifest []byte) (string, error)
}

// This type implements the ConciergeService interface, brokering manifest
// transfers on the Globus transfer network on behalf of its users.
type prototype struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	// the service configuration
	conf config.Config
	// resolves bearer tokens to users and delegated credentials
	tokens *auth.TokenStore
	// local records of manifests, transfers and tokens
	journal *journal.Journal
	// where serialized manifests are kept (may be nil)
	blobs ManifestStore
	// tracks manifest transfers across their member tasks
	manager *transfers.Manager
}

// maps a typed error from one of the underlying packages onto the HTTP
// status it should produce
func apiError(err error) error {
	switch e := err.(type) {
	case *auth.AuthenticationFailedError:
		return huma.Error401Unauthorized(e.Error())
	case *auth.InsufficientScopeError:
		return huma.Error403Forbidden(e.Error())
	case *auth.AuthServerError:
		return huma.Error503ServiceUnavailable(e.Error())
	case *journal.ManifestNotFoundError:
		return huma.Error404NotFound(e.Error())
	case *transfers.NotFoundError:
		return huma.Error404NotFound(e.Error())
	case *identifiers.NotFoundError:
		return huma.Error404NotFound(e.Error())
	case *manifests.ValidationError:
		return huma.Error400BadRequest(e.Error())
	case *manifests.NoDataToTransferError:
		return huma.Error400BadRequest(e.Error())
	case *transfers.NoTransfersError:
		return huma.Error400BadRequest(e.Error())
	case *globus.InvalidURLError:
		return huma.Error400BadRequest(e.Error())
	case *globus.NotSupportedError:
		return huma.Error400BadRequest(e.Error())
	case *globus.TransferError:
		return huma.NewError(e.StatusCode, e.Message)
	default:
		return err
	}
}

// extracts the bearer token from an Authorization header, rejecting headers
// too short to carry one
func bearerToken(authorizationHeader string) (string, bool) {
	if !strings.HasPrefix(authorizationHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(authorizationHeader[len("Bearer "):]), true
}

// authorize clients for the Concierge, resolving the bearer token in the
// given header to a user and their delegated credentials
func (service *prototype) authorize(authorizationHeader string) (string, *auth.ConciergeToken, error) {
	rawToken, ok := bearerToken(authorizationHeader)
	if !ok {
		return "", nil, huma.Error401Unauthorized("Invalid authorization header")
	}
	token, err := service.tokens.Resolve(rawToken)
	if err != nil {
		return "", nil, apiError(err)
	}
	return rawToken, token, nil
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *prototype) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type ManifestOutput struct {
	Body   ManifestResponse `doc:"The record of the newly registered manifest"`
	Status int
}

// handler method for registering (and optionally verifying) a manifest
func (service *prototype) createManifest(ctx context.Context,
	input *struct {
		Authorization string          `header:"Authorization" doc:"Authorization header with bearer access token"`
		Body          ManifestRequest `doc:"The body of a POST request for a manifest registration"`
		ContentType   string          `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*ManifestOutput, error) {

	rawToken, token, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	entries := input.Body.Manifest
	err = manifests.Validate(entries, manifests.ValidationOptions{
		RequireChecksum: input.Body.RequireChecksum,
		Protocols:       service.conf.Manifests.Protocols,
	})
	if err != nil {
		return nil, apiError(err)
	}

	// verification expands the manifest against the live endpoints, using
	// the user's delegated transfer credential
	if input.Body.Verify {
		transferToken, err := service.tokens.ScopedToken(rawToken, auth.TransferSubservice)
		if err != nil {
			return nil, apiError(err)
		}
		lister := globus.NewClient(service.conf.Globus.TransferURL, transferToken)
		entries, err = manifests.Verify(lister, entries, service.conf.Manifests)
		if err != nil {
			return nil, apiError(err)
		}
	}

	id := uuid.New()
	slog.Info(fmt.Sprintf("Registering manifest %s with %d entries for %s...",
		id, len(entries), token.User.Username))
	manifestJson, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	var location string
	if service.blobs != nil {
		location, err = service.blobs.SaveManifest(id, manifestJson)
		if err != nil {
			return nil, err
		}
	}

	var identifier string
	if service.conf.Identifiers.URL != "" {
		idToken, err := service.tokens.ScopedToken(rawToken, auth.IdentifiersSubservice)
		if err != nil {
			return nil, apiError(err)
		}
		digest := sha256.Sum256(manifestJson)
		metadata := make(map[string]any)
		for key, value := range input.Body.Metadata {
			metadata[key] = value
		}
		metadata["created_by"] = token.User.Username
		var locations []string
		if location != "" {
			locations = []string{location}
		}
		client := identifiers.NewClient(service.conf.Identifiers, idToken)
		record, err := client.Register(identifiers.Registration{
			Title:     fmt.Sprintf("concierge-manifest-%s", id),
			Locations: locations,
			Checksums: []identifiers.Checksum{
				{Function: "sha256", Value: hex.EncodeToString(digest[:])},
			},
			Metadata: metadata,
			Test:     input.Body.Test || service.conf.Identifiers.Test,
		})
		if err != nil {
			return nil, apiError(err)
		}
		identifier = record.Identifier
	}

	err = service.journal.SaveManifest(journal.ManifestRecord{
		Id:           id,
		User:         token.User.Subject,
		Identifier:   identifier,
		Location:     location,
		Manifest:     manifestJson,
		CreationTime: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &ManifestOutput{
		Body: ManifestResponse{
			Id:         id,
			Identifier: identifier,
			Location:   location,
			NumFiles:   len(entries),
		},
		Status: http.StatusCreated,
	}, nil
}

type ManifestRecordOutput struct {
	Body ManifestRecordResponse `doc:"The record of the requested manifest"`
}

// handler method for fetching a registered manifest
func (service *prototype) getManifest(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with bearer access token"`
		Id            uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested manifest"`
	}) (*ManifestRecordOutput, error) {

	_, token, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	record, err := service.journal.Manifest(input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	// manifests are visible only to the user who registered them; ownership
	// is keyed by the stable subject id, since usernames can be reassigned
	if record.User != token.User.Subject {
		return nil, huma.Error404NotFound(fmt.Sprintf("No manifest record was found with ID %s", input.Id))
	}
	return &ManifestRecordOutput{
		Body: ManifestRecordResponse{
			Id:           record.Id,
			User:         record.User,
			Identifier:   record.Identifier,
			Location:     record.Location,
			Manifest:     record.Manifest,
			CreationTime: record.CreationTime,
		},
	}, nil
}

type TransferOutput struct {
	Body   TransferResponse `doc:"A record of the submitted transfer"`
	Status int
}

// handler method for initiating a manifest transfer
func (service *prototype) createTransfer(ctx context.Context,
	input *struct {
		Authorization string          `header:"Authorization" doc:"Authorization header with bearer access token"`
		Id            uuid.UUID       `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the manifest to transfer"`
		Body          TransferRequest `doc:"The body of a POST request for a manifest transfer"`
		ContentType   string          `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*TransferOutput, error) {

	rawToken, token, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	record, err := service.journal.Manifest(input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	if record.User != token.User.Subject {
		return nil, huma.Error404NotFound(fmt.Sprintf("No manifest record was found with ID %s", input.Id))
	}

	destination, err := globus.ParseURL(input.Body.Destination)
	if err != nil {
		return nil, apiError(err)
	}

	var entries []manifests.RemoteFileEntry
	if err := json.Unmarshal(record.Manifest, &entries); err != nil {
		return nil, err
	}

	// files can be rerouted under a directory named after the manifest, so
	// several manifests can land at one destination without colliding
	var bagDir string
	if input.Body.BagDirs {
		bagDir = input.Id.String()
	}
	catalog, errorCatalog, err := manifests.BuildCatalog(entries,
		service.conf.Manifests.StagingProtocols, bagDir)
	if err != nil {
		return nil, apiError(err)
	}

	transferToken, err := service.tokens.ScopedToken(rawToken, auth.TransferSubservice)
	if err != nil {
		return nil, apiError(err)
	}
	client := globus.NewClient(service.conf.Globus.TransferURL, transferToken)

	label := input.Body.Label
	if label == "" {
		label = fmt.Sprintf("%s manifest %s", service.Name, input.Id)
	}
	syncLevel := input.Body.SyncLevel
	if syncLevel == "" {
		syncLevel = service.conf.Globus.SyncLevel
	}
	slog.Info(fmt.Sprintf("Submitting transfers for manifest %s to %s...",
		input.Id, input.Body.Destination))
	taskIds, err := transfers.Submit(client, catalog, destination, transfers.SubmitOptions{
		Label:           label,
		SyncLevel:       syncLevel,
		VerifyChecksums: service.conf.Globus.VerifyChecksums,
	})
	if err != nil {
		if len(taskIds) > 0 {
			slog.Error(fmt.Sprintf("Transfer submission for manifest %s failed after %d accepted tasks",
				input.Id, len(taskIds)))
		}
		return nil, apiError(err)
	}

	catalogJson, err := json.Marshal(catalog)
	if err != nil {
		return nil, err
	}
	errorCatalogJson, err := json.Marshal(errorCatalog)
	if err != nil {
		return nil, err
	}
	jobId, err := service.manager.Create(transfers.JobSpec{
		ManifestId:   input.Id,
		User:         token.User.Subject,
		TaskIds:      taskIds,
		Catalog:      catalogJson,
		ErrorCatalog: errorCatalogJson,
		Client:       client,
	})
	if err != nil {
		return nil, apiError(err)
	}

	return &TransferOutput{
		Body: TransferResponse{
			Id:           jobId,
			TaskIds:      taskIds,
			ErrorCatalog: errorCatalog,
		},
		Status: http.StatusCreated,
	}, nil
}

type TransferStatusOutput struct {
	Body TransferStatusResponse `doc:"A status message for the transfer with the given ID"`
}

// handler method for getting the status of a manifest transfer
func (service *prototype) getTransferStatus(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with bearer access token"`
		Id            uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the transferred manifest"`
		Xfer          uuid.UUID `path:"xfer" example:"07e1ab9c-c844-4c72-9be3-54981f7c8b39" doc:"the UUID for the requested transfer"`
	}) (*TransferStatusOutput, error) {

	_, token, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	status, err := service.manager.Status(input.Xfer)
	if err != nil {
		return nil, apiError(err)
	}
	if status.Job.ManifestId != input.Id || status.Job.User != token.User.Subject {
		return nil, huma.Error404NotFound(fmt.Sprintf("No transfer was found with ID %s", input.Xfer))
	}

	members := make([]TransferMemberResponse, 0, len(status.Job.Transfers))
	for _, xfer := range status.Job.Transfers {
		members = append(members, TransferMemberResponse{
			TaskId:           xfer.TaskId,
			Status:           string(xfer.Status),
			Files:            xfer.Files,
			FilesTransferred: xfer.FilesTransferred,
			BytesTransferred: xfer.BytesTransferred,
			CompletionTime:   xfer.CompletionTime,
		})
	}
	return &TransferStatusOutput{
		Body: TransferStatusResponse{
			Id:         status.Job.Id,
			ManifestId: status.Job.ManifestId,
			Status:     string(status.Aggregate),
			Transfers:  members,
		},
	}, nil
}

type TaskCancellationOutput struct {
	Status int
}

// handler method for canceling a transfer task
func (service *prototype) cancelTransfer(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with bearer access token"`
		Task          uuid.UUID `path:"task" example:"07e1ab9c-c844-4c72-9be3-54981f7c8b39" doc:"the UUID for the task to cancel"`
	}) (*TaskCancellationOutput, error) {

	_, _, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	err = service.manager.Cancel(input.Task)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskCancellationOutput{
		Status: http.StatusAccepted,
	}, nil
}

type LogoutOutput struct {
	Status int
}

// handler method for revoking the caller's access token
func (service *prototype) logout(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with bearer access token"`
	}) (*LogoutOutput, error) {

	rawToken, ok := bearerToken(input.Authorization)
	if !ok {
		return nil, huma.Error401Unauthorized("Invalid authorization header")
	}
	if err := service.tokens.Revoke(rawToken); err != nil {
		return nil, apiError(err)
	}
	return &LogoutOutput{
		Status: http.StatusNoContent,
	}, nil
}

// returns the uptime for the service in seconds
func (service *prototype) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs a concierge service from the given configuration and
// collaborators (blobs may be nil when no manifest store is configured)
func NewConciergeService(conf config.Config, tokens *auth.TokenStore,
	jrnl *journal.Journal, blobs ManifestStore,
	manager *transfers.Manager) (ConciergeService, error) {

	// validate our configuration
	if conf.Globus.TransferURL == "" {
		return nil, fmt.Errorf("No transfer API URL was specified.")
	}
	if tokens == nil {
		return nil, fmt.Errorf("No token store was provided.")
	}
	if jrnl == nil {
		return nil, fmt.Errorf("No journal was provided.")
	}
	if manager == nil {
		return nil, fmt.Errorf("No transfer manager was provided.")
	}

	service := new(prototype)
	service.Name = conf.Service.Name
	service.Version = version
	service.Port = -1
	service.conf = conf
	service.tokens = tokens
	service.journal = jrnl
	service.blobs = blobs
	service.manager = manager

	// set up routing
	service.Router = mux.NewRouter()
	service.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	service.API = api
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Post(api, "/api/v1/manifests", service.createManifest)
	huma.Get(api, "/api/v1/manifests/{id}", service.getManifest)
	huma.Post(api, "/api/v1/manifests/{id}/transfer", service.createTransfer)
	huma.Get(api, "/api/v1/manifests/{id}/transfer/{xfer}", service.getTransferStatus)
	huma.Post(api, "/api/v1/transfers/{task}/cancel", service.cancelTransfer)
	huma.Post(api, "/api/v1/logout", service.logout)

	return service, nil
}

// starts the concierge service
func (service *prototype) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", service.conf.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.conf.Service.MaxConnections)

	// start transfer reconciliation
	err = service.manager.Start()
	if err != nil {
		return err
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *prototype) Shutdown(ctx context.Context) error {
	service.manager.Stop()
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *prototype) Close() {
	service.manager.Stop()
	if service.Server != nil {
		service.Server.Close()
	}
}
