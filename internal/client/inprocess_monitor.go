package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

type priorityState int

const (
	priorityIdle priorityState = iota
	priorityBoosted
)

type pollResult struct {
	status protocol.JobStatus
	err    error
}

// inProcessMonitor polls the driver on its own goroutine and keeps only the
// newest snapshot for GetStatus.
type inProcessMonitor struct {
	t      *inProcess
	id     protocol.JobID
	logger zerolog.Logger

	updates   chan pollResult
	intervals chan time.Duration
	done      chan struct{}
	loopDone  chan struct{}
	cancel    context.CancelFunc

	mu      sync.Mutex
	state   priorityState
	stopped bool
	exited  bool
}

func newInProcessMonitor(t *inProcess, id protocol.JobID, interval time.Duration) *inProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &inProcessMonitor{
		t:         t,
		id:        id,
		logger:    t.logger.With().Stringer("job", id).Logger(),
		updates:   make(chan pollResult, 1),
		intervals: make(chan time.Duration, 1),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		cancel:    cancel,
	}
	var (
		changes <-chan struct{}
		release = func() {}
	)
	if n, ok := t.drv.(driver.Notifier); ok {
		changes, release = n.Notify(id)
	}
	go m.run(ctx, interval, changes, release)
	return m
}

func (m *inProcessMonitor) JobID() protocol.JobID { return m.id }

func (m *inProcessMonitor) GetStatus(ctx context.Context, timeout time.Duration) (protocol.JobStatus, error) {
	select {
	case <-m.done:
		return protocol.JobStatus{}, pipe.ErrNotConnected
	default:
	}
	select {
	case r := <-m.updates:
		return r.status, r.err
	default:
	}
	select {
	case <-m.loopDone:
		return protocol.JobStatus{}, pipe.ErrNotConnected
	default:
	}
	if timeout <= 0 {
		return protocol.JobStatus{}, pipe.ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-m.updates:
		return r.status, r.err
	case <-m.done:
		return protocol.JobStatus{}, pipe.ErrNotConnected
	case <-m.loopDone:
		select {
		case r := <-m.updates:
			return r.status, r.err
		default:
			return protocol.JobStatus{}, pipe.ErrNotConnected
		}
	case <-timer.C:
		return protocol.JobStatus{}, pipe.ErrTimeout
	case <-ctx.Done():
		return protocol.JobStatus{}, pipe.Timeout(ctx.Err())
	}
}

// Close detaches the monitor from its transport and restores priority.
func (m *inProcessMonitor) Close() error {
	m.t.detach(m.id, m)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	m.stop(ctx, true)
	return nil
}

// run polls every interval, and at once when changes fires.
func (m *inProcessMonitor) run(ctx context.Context, interval time.Duration, changes <-chan struct{}, release func()) {
	defer close(m.loopDone)
	defer release()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.intervals:
			interval = d
			timer.Reset(interval)
			m.logger.Debug().Dur("interval", interval).Msg("monitor interval changed")
			continue
		case <-changes:
		case <-timer.C:
		}

		st, err := m.t.drv.Status(ctx, m.t.name, m.id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Debug().Err(err).Msg("status poll failed, monitor stopping")
			m.publish(pollResult{err: pipe.API(err)})
			m.t.detach(m.id, m)
			m.retire()
			return
		}
		m.publish(pollResult{status: st})
		timer.Reset(interval)
	}
}

// publish replaces any unread snapshot with r.
func (m *inProcessMonitor) publish(r pollResult) {
	for {
		select {
		case m.updates <- r:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func (m *inProcessMonitor) setInterval(d time.Duration) bool {
	select {
	case <-m.done:
		return false
	case <-m.loopDone:
		return false
	default:
	}
	for {
		select {
		case m.intervals <- d:
			return true
		default:
		}
		select {
		case <-m.intervals:
		default:
		}
	}
}

// boost raises the job to foreground. The monitor counts as boosted even if
// the request fails so that restoration is still attempted.
func (m *inProcessMonitor) boost(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.exited {
		return
	}
	m.state = priorityBoosted
	if err := m.t.drv.SetPriority(ctx, m.t.name, m.id, protocol.PriorityForeground); err != nil {
		m.logger.Warn().Err(err).Msg("raise priority failed")
	}
}

// retire marks the poll loop as gone and restores priority. Once it has run,
// boost does nothing.
func (m *inProcessMonitor) retire() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	m.mu.Lock()
	m.exited = true
	m.mu.Unlock()
	m.restore(ctx)
}

// restore returns a boosted job to normal priority, at most once.
func (m *inProcessMonitor) restore(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != priorityBoosted {
		return
	}
	m.state = priorityIdle
	if err := m.t.drv.SetPriority(ctx, m.t.name, m.id, protocol.PriorityNormal); err != nil {
		m.logger.Warn().Err(err).Msg("restore priority failed")
		return
	}
	m.logger.Debug().Msg("priority restored")
}

// supersede stops the monitor and hands its priority over to a successor.
func (m *inProcessMonitor) supersede() {
	m.mu.Lock()
	m.state = priorityIdle
	m.mu.Unlock()
	m.stop(context.Background(), false)
}

func (m *inProcessMonitor) stop(ctx context.Context, restore bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.done)
	m.mu.Unlock()

	m.cancel()
	<-m.loopDone
	select {
	case <-m.updates:
	default:
	}
	if restore {
		m.restore(ctx)
	}
}

var _ MonitorTransport = (*inProcessMonitor)(nil)
