// Package protocol defines the vocabulary shared by the client facade, its
// transports and the drivers: job identifiers, mirrored driver enumerations,
// status snapshots and the per-operation execution failures.
package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// JobID is the driver-assigned 128-bit job identifier.
type JobID = uuid.UUID

// ParseJobID accepts the bare and the braced GUID text forms.
func ParseJobID(s string) (JobID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return JobID{}, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

// ProxyUsage mirrors the driver's proxy usage enumeration.
type ProxyUsage int

const (
	ProxyPreconfig  ProxyUsage = 0
	ProxyNoProxy    ProxyUsage = 1
	ProxyAutoDetect ProxyUsage = 3
)

func (p ProxyUsage) String() string {
	switch p {
	case ProxyPreconfig:
		return "preconfig"
	case ProxyNoProxy:
		return "no_proxy"
	case ProxyAutoDetect:
		return "autodetect"
	default:
		return fmt.Sprintf("proxy_usage(%d)", int(p))
	}
}

func (p ProxyUsage) Valid() bool {
	switch p {
	case ProxyPreconfig, ProxyNoProxy, ProxyAutoDetect:
		return true
	}
	return false
}

// ParseProxyUsage maps user input onto a ProxyUsage.
func ParseProxyUsage(s string) (ProxyUsage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preconfig", "default":
		return ProxyPreconfig, nil
	case "none", "no_proxy", "noproxy", "direct":
		return ProxyNoProxy, nil
	case "auto", "autodetect":
		return ProxyAutoDetect, nil
	default:
		return 0, fmt.Errorf("unknown proxy usage %q", s)
	}
}

// JobState mirrors the driver's job state enumeration.
type JobState int

const (
	StateQueued         JobState = 0
	StateConnecting     JobState = 1
	StateTransferring   JobState = 2
	StateSuspended      JobState = 3
	StateError          JobState = 4
	StateTransientError JobState = 5
	StateTransferred    JobState = 6
	StateAcknowledged   JobState = 7
	StateCancelled      JobState = 8
)

var stateNames = map[JobState]string{
	StateQueued:         "queued",
	StateConnecting:     "connecting",
	StateTransferring:   "transferring",
	StateSuspended:      "suspended",
	StateError:          "error",
	StateTransientError: "transient_error",
	StateTransferred:    "transferred",
	StateAcknowledged:   "acknowledged",
	StateCancelled:      "cancelled",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Settled reports whether the job will not transfer further without caller
// action.
func (s JobState) Settled() bool {
	switch s {
	case StateError, StateTransferred, StateAcknowledged, StateCancelled:
		return true
	}
	return false
}

// Priority is the subset of driver priorities the client manipulates.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityForeground
)

func (p Priority) String() string {
	if p == PriorityForeground {
		return "foreground"
	}
	return "normal"
}

// UnknownSize marks a total size the driver has not learned yet.
const UnknownSize = ^uint64(0)

// JobProgress is a transfer progress snapshot.
type JobProgress struct {
	TotalBytes       uint64
	TransferredBytes uint64
	TotalFiles       uint32
	TransferredFiles uint32
}

// Percent returns progress in [0,100], or -1 when the total is unknown.
func (p JobProgress) Percent() float64 {
	if p.TotalBytes == UnknownSize {
		return -1
	}
	if p.TotalBytes == 0 {
		if p.TotalFiles > 0 && p.TransferredFiles >= p.TotalFiles {
			return 100
		}
		return 0
	}
	done := p.TransferredBytes
	if done > p.TotalBytes {
		done = p.TotalBytes
	}
	return float64(done) * 100 / float64(p.TotalBytes)
}

// ErrorContext tells which side of the transfer produced a job error.
type ErrorContext int

const (
	ErrorContextNone ErrorContext = iota
	ErrorContextUnknown
	ErrorContextGeneralQueueManager
	ErrorContextLocalFile
	ErrorContextRemoteFile
	ErrorContextGeneralTransport
	ErrorContextRemoteApplication
)

func (c ErrorContext) String() string {
	switch c {
	case ErrorContextNone:
		return "none"
	case ErrorContextGeneralQueueManager:
		return "queue_manager"
	case ErrorContextLocalFile:
		return "local_file"
	case ErrorContextRemoteFile:
		return "remote_file"
	case ErrorContextGeneralTransport:
		return "transport"
	case ErrorContextRemoteApplication:
		return "remote_application"
	default:
		return "unknown"
	}
}

// JobError is the driver-reported error detail of a job.
type JobError struct {
	Context ErrorContext
	Code    int32
	Message string
}

func (e JobError) String() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error %d", e.Context, e.Code)
	}
	return fmt.Sprintf("%s error %d: %s", e.Context, e.Code, e.Message)
}

// JobStatus is a point-in-time view of a job, produced by the driver.
type JobStatus struct {
	State      JobState
	Progress   JobProgress
	ErrorCount uint32
	Error      *JobError
	Priority   Priority
}
