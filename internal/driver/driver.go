// Package driver defines the contract of the background transfer service the
// client talks to. Implementations live in subpackages.
package driver

import (
	"context"
	"errors"

	"github.com/Witriol/bgxfer/internal/protocol"
)

var (
	// ErrNotFound: no job with that id is visible under the caller's name.
	ErrNotFound = errors.New("job_not_found")
	// ErrInvalidState: the job cannot make the requested transition now.
	ErrInvalidState = errors.New("invalid_job_state")
	// ErrInvalidArgument: the request itself is malformed.
	ErrInvalidArgument = errors.New("invalid_argument")
)

// JobSpec describes a job to create. SavePath is already resolved under the
// caller's save-path prefix.
type JobSpec struct {
	Name     string
	URL      string
	SavePath string
}

// Driver performs and tracks transfers. Every call after CreateJob is scoped
// by job name; jobs created under another name behave as not found.
type Driver interface {
	// CreateJob creates a suspended job and returns its id.
	CreateJob(ctx context.Context, spec JobSpec) (protocol.JobID, error)
	SetProxyUsage(ctx context.Context, name string, id protocol.JobID, usage protocol.ProxyUsage) error
	Status(ctx context.Context, name string, id protocol.JobID) (protocol.JobStatus, error)
	Suspend(ctx context.Context, name string, id protocol.JobID) error
	Resume(ctx context.Context, name string, id protocol.JobID) error
	SetPriority(ctx context.Context, name string, id protocol.JobID, p protocol.Priority) error
	Priority(ctx context.Context, name string, id protocol.JobID) (protocol.Priority, error)
	// Complete acknowledges a transferred job and disposes of it.
	Complete(ctx context.Context, name string, id protocol.JobID) error
	// Cancel abandons a job and disposes of it.
	Cancel(ctx context.Context, name string, id protocol.JobID) error
	Close() error
}

// Notifier is implemented by drivers that can signal a job reaching a
// settled state (transferred, error, removed) ahead of the next poll. The
// returned channel receives at most one value per change; release
// unsubscribes.
type Notifier interface {
	Notify(id protocol.JobID) (changes <-chan struct{}, release func())
}

// Factory opens a driver handle.
type Factory func(ctx context.Context) (Driver, error)
