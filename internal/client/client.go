// Package client drives and monitors jobs on a background transfer driver.
//
// Every operation returns either nil, a *pipe.Error when the channel to the
// driver failed, or the operation's protocol failure when the driver refused
// the request. IsCommunication and IsExecution tell the two apart.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

type options struct {
	factory driver.Factory
	logger  zerolog.Logger
}

// Option configures New.
type Option func(*options)

// WithDriver sets how New acquires its driver handle.
func WithDriver(f driver.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithLogger sets the logger for client and monitor diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client issues job commands under one job name.
type Client struct {
	t      Transport
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New acquires a driver handle and scopes every later call to jobName, with
// save paths resolved under savePathPrefix.
func New(ctx context.Context, jobName, savePathPrefix string, opts ...Option) (*Client, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		return nil, pipe.ErrNotConnected
	}
	drv, err := o.factory(ctx)
	if err != nil {
		if ce := commError(err); ce != nil {
			return nil, ce
		}
		return nil, pipe.API(err)
	}
	logger := o.logger.With().Str("job_name", jobName).Logger()
	logger.Debug().Str("prefix", savePathPrefix).Msg("client connected")
	return &Client{
		t:      newInProcess(drv, jobName, savePathPrefix, logger),
		logger: logger,
	}, nil
}

// StartJob creates and resumes a download of url into savePath and returns a
// Monitor polling it every monitorIntervalMillis.
func (c *Client) StartJob(ctx context.Context, url, savePath string, proxy protocol.ProxyUsage, monitorIntervalMillis uint32) (protocol.JobID, *Monitor, error) {
	if err := c.usable(); err != nil {
		return protocol.JobID{}, nil, err
	}
	id, mt, err := c.t.StartJob(ctx, url, savePath, proxy, millis(monitorIntervalMillis))
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("start job failed")
		return protocol.JobID{}, nil, err
	}
	c.logger.Debug().Stringer("job", id).Str("url", url).Msg("job started")
	return id, &Monitor{t: mt}, nil
}

// MonitorJob attaches a Monitor to an existing job, superseding any monitor
// this Client already has for it.
func (c *Client) MonitorJob(ctx context.Context, id protocol.JobID, monitorIntervalMillis uint32) (*Monitor, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	mt, err := c.t.MonitorJob(ctx, id, millis(monitorIntervalMillis))
	if err != nil {
		return nil, err
	}
	return &Monitor{t: mt}, nil
}

// JobStatus reads one status snapshot of id. Unlike MonitorJob it leaves the
// job's priority alone.
func (c *Client) JobStatus(ctx context.Context, id protocol.JobID) (protocol.JobStatus, error) {
	if err := c.usable(); err != nil {
		return protocol.JobStatus{}, err
	}
	return c.t.JobStatus(ctx, id)
}

// SuspendJob pauses the transfer of id.
func (c *Client) SuspendJob(ctx context.Context, id protocol.JobID) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.SuspendJob(ctx, id)
}

// ResumeJob restarts a suspended transfer.
func (c *Client) ResumeJob(ctx context.Context, id protocol.JobID) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.ResumeJob(ctx, id)
}

// SetJobPriority sets foreground or normal priority. An active monitor does
// not reapply its own boost afterwards.
func (c *Client) SetJobPriority(ctx context.Context, id protocol.JobID, foreground bool) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.SetJobPriority(ctx, id, foreground)
}

// SetUpdateInterval changes the poll interval of this Client's monitor for id.
func (c *Client) SetUpdateInterval(ctx context.Context, id protocol.JobID, intervalMillis uint32) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.SetUpdateInterval(ctx, id, millis(intervalMillis))
}

// StopUpdate stops the active monitor for id and restores the job's
// priority.
func (c *Client) StopUpdate(ctx context.Context, id protocol.JobID) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.StopUpdate(ctx, id)
}

// CompleteJob acknowledges a transferred job and ends its monitor.
func (c *Client) CompleteJob(ctx context.Context, id protocol.JobID) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.CompleteJob(ctx, id)
}

// CancelJob abandons the job and ends its monitor.
func (c *Client) CancelJob(ctx context.Context, id protocol.JobID) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.t.CancelJob(ctx, id)
}

// Close stops every monitor and releases the driver. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.t.Close()
}

func (c *Client) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pipe.ErrNotConnected
	}
	return nil
}

// IsCommunication reports whether err came from the channel to the driver.
func IsCommunication(err error) bool {
	var pe *pipe.Error
	return errors.As(err, &pe)
}

// IsExecution reports whether err is a driver's refusal of an operation.
func IsExecution(err error) bool {
	var f protocol.Failure
	return errors.As(err, &f)
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
