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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fair-research/concierge/config"
	"github.com/fair-research/concierge/globus"
)

// This interface provides the transfer network operations reconciliation
// needs; the globus transfer client satisfies it. Each manifest transfer
// carries its own client because status polling uses the delegated
// credential of the user who submitted it.
type TransferClient interface {
	Task(id uuid.UUID) (globus.Task, error)
	Cancel(id uuid.UUID) error
}

// This interface receives records of completed transfers for audit; the
// journal implements it.
type Journal interface {
	RecordTransfer(taskId uuid.UUID, record []byte) error
}

// everything needed to register a freshly submitted manifest transfer with
// the manager
type JobSpec struct {
	// identifier of the manifest being transferred
	ManifestId uuid.UUID
	// stable subject id of the requesting user
	User string
	// task ids returned by the transfer network, one per source endpoint
	TaskIds []uuid.UUID
	// the catalogs the submission was built from (JSON, kept for audit)
	Catalog, ErrorCatalog json.RawMessage
	// client used to poll and cancel this transfer's tasks
	Client TransferClient
}

// a snapshot of a manifest transfer together with its aggregate status
type JobStatus struct {
	Job       ManifestTransfer `json:"job"`
	Aggregate Status           `json:"aggregate"`
}

// a manifest transfer under management, paired with the client that polls it
type manifestJob struct {
	ManifestTransfer
	client     TransferClient
	finishedAt time.Time
}

// this type holds the channels the manager uses to communicate with its
// worker goroutine
type channelsType struct {
	CreateJob       chan manifestJob // used by client to register a manifest transfer
	CancelTask      chan uuid.UUID   // used by client to request task cancellation
	GetJobStatus    chan uuid.UUID   // used by client to request a status snapshot
	ReturnJobId     chan uuid.UUID   // returns job ID to client
	ReturnJobStatus chan JobStatus   // returns status snapshot to client
	CancelResult    chan error       // returns cancellation outcome to client
	Error           chan error       // returns error to client
	Poll            chan struct{}    // carries heartbeat signal for reconciliation
	Stop            chan struct{}    // used by client to stop the manager
}

// The transfer manager owns all manifest transfer records. A single worker
// goroutine serves creation, status, and cancellation requests over channels
// and reconciles non-terminal transfers against the transfer network on a
// polling heartbeat, so the request path never blocks on remote status
// calls.
type Manager struct {
	pollInterval time.Duration
	deleteAfter  time.Duration
	journal      Journal
	channels     channelsType
	stopPolling  chan struct{}
	running      bool
}

// creates a transfer manager that reconciles at the configured poll interval
// and records completed transfers to the given journal (which may be nil)
func NewManager(serviceConfig config.ServiceConfig, journal Journal) *Manager {
	return &Manager{
		pollInterval: time.Duration(serviceConfig.PollInterval) * time.Millisecond,
		deleteAfter:  time.Duration(serviceConfig.DeleteAfter) * time.Second,
		journal:      journal,
	}
}

// Starts the manager's worker goroutine and polling heartbeat.
func (mgr *Manager) Start() error {
	if mgr.running {
		return &AlreadyRunningError{}
	}
	mgr.channels = channelsType{
		CreateJob:       make(chan manifestJob, 32),
		CancelTask:      make(chan uuid.UUID, 32),
		GetJobStatus:    make(chan uuid.UUID, 32),
		ReturnJobId:     make(chan uuid.UUID, 32),
		ReturnJobStatus: make(chan JobStatus, 32),
		CancelResult:    make(chan error, 32),
		Error:           make(chan error, 32),
		Poll:            make(chan struct{}),
		Stop:            make(chan struct{}),
	}
	mgr.stopPolling = make(chan struct{})

	go mgr.processJobs()

	slog.Info(fmt.Sprintf("Transfer statuses are reconciled every %d ms",
		mgr.pollInterval.Milliseconds()))
	go mgr.heartbeat()

	mgr.running = true
	return nil
}

// Stops the manager. Registering transfers and requesting statuses are
// disallowed in a stopped state.
func (mgr *Manager) Stop() error {
	if !mgr.running {
		return &NotRunningError{}
	}
	close(mgr.stopPolling)
	mgr.channels.Stop <- struct{}{}
	err := <-mgr.channels.Error
	mgr.running = false
	return err
}

// Returns true if the manager is running, false if not.
func (mgr *Manager) Running() bool {
	return mgr.running
}

// Registers a freshly submitted manifest transfer with the manager,
// returning an identifier for it. All member tasks start out ACTIVE and are
// reconciled on the next heartbeat.
func (mgr *Manager) Create(spec JobSpec) (uuid.UUID, error) {
	var jobId uuid.UUID
	if !mgr.running {
		return jobId, &NotRunningError{}
	}
	if len(spec.TaskIds) == 0 {
		return jobId, &NoTransfersError{}
	}

	members := make([]Transfer, len(spec.TaskIds))
	for i, taskId := range spec.TaskIds {
		members[i] = Transfer{TaskId: taskId, Status: StatusActive}
	}
	mgr.channels.CreateJob <- manifestJob{
		ManifestTransfer: ManifestTransfer{
			ManifestId:     spec.ManifestId,
			User:           spec.User,
			Transfers:      members,
			Catalog:        spec.Catalog,
			ErrorCatalog:   spec.ErrorCatalog,
			SubmissionTime: time.Now(),
		},
		client: spec.Client,
	}
	var err error
	select {
	case jobId = <-mgr.channels.ReturnJobId:
	case err = <-mgr.channels.Error:
	}
	return jobId, err
}

// Given a manifest transfer's identifier, returns a snapshot of its state
// with the aggregate status (or a non-nil error indicating any issues
// encountered). The snapshot reflects the last reconciliation; this call
// never contacts the transfer network.
func (mgr *Manager) Status(jobId uuid.UUID) (JobStatus, error) {
	var status JobStatus
	if !mgr.running {
		return status, &NotRunningError{}
	}
	var err error
	mgr.channels.GetJobStatus <- jobId
	select {
	case status = <-mgr.channels.ReturnJobStatus:
	case err = <-mgr.channels.Error:
	}
	return status, err
}

// Requests cancellation of the transfer task with the given id. The request
// is idempotent: a task that has already finished counts as successfully
// cancelled. Clients should check the status of the task separately.
func (mgr *Manager) Cancel(taskId uuid.UUID) error {
	if !mgr.running {
		return &NotRunningError{}
	}
	mgr.channels.CancelTask <- taskId
	// cancellations answer on their own channel so a reported failure can't
	// be misread by an unrelated request on the shared error channel
	return <-mgr.channels.CancelResult
}

//-----------
// Internals
//-----------

// this function runs in its own goroutine, using the manager's channels to
// communicate with the main thread
func (mgr *Manager) processJobs() {
	jobs := make(map[uuid.UUID]manifestJob)

	running := true
	for running {
		select {
		case newJob := <-mgr.channels.CreateJob: // Create() called
			newJob.Id = uuid.New()
			jobs[newJob.Id] = newJob
			mgr.channels.ReturnJobId <- newJob.Id
			slog.Info(fmt.Sprintf("Created manifest transfer %s (%d task(s))",
				newJob.Id.String(), len(newJob.Transfers)))
		case taskId := <-mgr.channels.CancelTask: // Cancel() called
			job, found := findJobWithTask(jobs, taskId)
			if !found {
				mgr.channels.CancelResult <- &NotFoundError{Id: taskId}
				break
			}
			slog.Info(fmt.Sprintf("Task %s: received cancellation request", taskId.String()))
			err := job.client.Cancel(taskId)
			if err != nil {
				slog.Error(fmt.Sprintf("Task %s: cancellation failed: %s",
					taskId.String(), err.Error()))
			}
			mgr.channels.CancelResult <- err
		case jobId := <-mgr.channels.GetJobStatus: // Status() called
			if job, found := jobs[jobId]; found {
				aggregate, err := job.AggregateStatus()
				if err != nil {
					mgr.channels.Error <- err
				} else {
					mgr.channels.ReturnJobStatus <- JobStatus{
						Job:       job.ManifestTransfer,
						Aggregate: aggregate,
					}
				}
			} else {
				mgr.channels.Error <- &NotFoundError{Id: jobId}
			}
		case <-mgr.channels.Poll: // time to reconcile
			for jobId, job := range jobs {
				if !job.completed() {
					mgr.reconcile(&job)
					jobs[jobId] = job
				}
				// purge jobs that finished long enough ago
				if !job.finishedAt.IsZero() && time.Since(job.finishedAt) > mgr.deleteAfter {
					slog.Debug(fmt.Sprintf("Manifest transfer %s: purging record",
						jobId.String()))
					delete(jobs, jobId)
				}
			}
		case <-mgr.channels.Stop: // Stop() called
			mgr.channels.Error <- nil
			running = false
		}
	}
}

// polls every non-terminal member of the given job, overwriting its cached
// fields; a polling error fails the member (it is logged, never propagated)
func (mgr *Manager) reconcile(job *manifestJob) {
	for i := range job.Transfers {
		xfer := &job.Transfers[i]
		if xfer.Status.Terminal() {
			// terminal statuses are sticky: never poll them again
			continue
		}
		task, err := job.client.Task(xfer.TaskId)
		if err != nil {
			xfer.Status = StatusFailed
			xfer.CompletionTime = time.Now()
			slog.Error(fmt.Sprintf("Task %s: %s", xfer.TaskId.String(), err.Error()))
			mgr.logCompletion(*xfer)
			continue
		}
		oldStatus := xfer.Status
		xfer.update(task)
		if xfer.Status != oldStatus {
			switch xfer.Status {
			case StatusInactive:
				slog.Info(fmt.Sprintf("Task %s: transfer suspended", xfer.TaskId.String()))
			case StatusSucceeded:
				slog.Info(fmt.Sprintf("Task %s: completed successfully (%d file(s), %d byte(s))",
					xfer.TaskId.String(), xfer.FilesTransferred, xfer.BytesTransferred))
			case StatusFailed:
				slog.Info(fmt.Sprintf("Task %s: failed", xfer.TaskId.String()))
			}
			if xfer.Status.Terminal() {
				mgr.logCompletion(*xfer)
			}
		}
	}
	if job.completed() && job.finishedAt.IsZero() {
		job.finishedAt = time.Now()
	}
}

// records a completed transfer in the journal
func (mgr *Manager) logCompletion(xfer Transfer) {
	if mgr.journal == nil {
		return
	}
	record, err := json.Marshal(xfer)
	if err != nil {
		return
	}
	if err := mgr.journal.RecordTransfer(xfer.TaskId, record); err != nil {
		slog.Error(fmt.Sprintf("Task %s: couldn't journal completion: %s",
			xfer.TaskId.String(), err.Error()))
	}
}

// this function sends a regular pulse on the poll channel until the manager
// is stopped
func (mgr *Manager) heartbeat() {
	ticker := time.NewTicker(mgr.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case mgr.channels.Poll <- struct{}{}:
			case <-mgr.stopPolling: // don't hang on a stopped worker
				return
			}
		case <-mgr.stopPolling:
			return
		}
	}
}

func findJobWithTask(jobs map[uuid.UUID]manifestJob, taskId uuid.UUID) (manifestJob, bool) {
	for _, job := range jobs {
		for _, xfer := range job.Transfers {
			if xfer.TaskId == taskId {
				return job, true
			}
		}
	}
	return manifestJob{}, false
}
