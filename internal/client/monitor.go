package client

import (
	"context"

	"github.com/Witriol/bgxfer/internal/protocol"
)

// Monitor reports status snapshots for one job. While it is active the job
// runs at foreground priority; stopping it puts the job back to normal.
type Monitor struct {
	t MonitorTransport
}

func (m *Monitor) JobID() protocol.JobID { return m.t.JobID() }

// GetStatus waits up to timeoutMillis for the next snapshot. It returns
// pipe.ErrTimeout when none arrived in time and pipe.ErrNotConnected once
// the monitor has been stopped, superseded or closed.
func (m *Monitor) GetStatus(ctx context.Context, timeoutMillis uint32) (protocol.JobStatus, error) {
	return m.t.GetStatus(ctx, millis(timeoutMillis))
}

func (m *Monitor) Close() error { return m.t.Close() }
