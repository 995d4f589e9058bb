package client

import (
	"context"
	"time"

	"github.com/Witriol/bgxfer/internal/protocol"
)

// Transport carries Client commands to the driver. Every method returns nil,
// a *pipe.Error when the transport itself failed, or the operation's
// protocol failure when the driver rejected the request.
//
// inProcess is the only implementation today; it calls the driver directly.
// An out-of-process implementation would wrap the helper process's stream in
// pipe.NewConn and exchange one frame per command. It must keep this exact
// error contract so callers never notice the switch.
type Transport interface {
	StartJob(ctx context.Context, url, savePath string, proxy protocol.ProxyUsage, interval time.Duration) (protocol.JobID, MonitorTransport, error)
	MonitorJob(ctx context.Context, id protocol.JobID, interval time.Duration) (MonitorTransport, error)
	JobStatus(ctx context.Context, id protocol.JobID) (protocol.JobStatus, error)
	SuspendJob(ctx context.Context, id protocol.JobID) error
	ResumeJob(ctx context.Context, id protocol.JobID) error
	SetJobPriority(ctx context.Context, id protocol.JobID, foreground bool) error
	SetUpdateInterval(ctx context.Context, id protocol.JobID, interval time.Duration) error
	StopUpdate(ctx context.Context, id protocol.JobID) error
	CompleteJob(ctx context.Context, id protocol.JobID) error
	CancelJob(ctx context.Context, id protocol.JobID) error
	Close() error
}

// MonitorTransport is the transport side of one Monitor.
type MonitorTransport interface {
	JobID() protocol.JobID
	GetStatus(ctx context.Context, timeout time.Duration) (protocol.JobStatus, error)
	Close() error
}
