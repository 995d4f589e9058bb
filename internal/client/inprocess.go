package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

const cleanupTimeout = 10 * time.Second

// inProcess executes every command directly against a driver handle owned by
// this transport.
type inProcess struct {
	drv    driver.Driver
	name   string
	prefix string
	logger zerolog.Logger

	mu       sync.Mutex
	monitors map[protocol.JobID]*inProcessMonitor
	closed   bool
}

func newInProcess(drv driver.Driver, name, prefix string, logger zerolog.Logger) *inProcess {
	return &inProcess{
		drv:      drv,
		name:     name,
		prefix:   prefix,
		logger:   logger,
		monitors: make(map[protocol.JobID]*inProcessMonitor),
	}
}

func (t *inProcess) StartJob(ctx context.Context, rawURL, savePath string, proxy protocol.ProxyUsage, interval time.Duration) (protocol.JobID, MonitorTransport, error) {
	var none protocol.JobID
	if err := t.usable(); err != nil {
		return none, nil, err
	}
	if err := validateURL(rawURL); err != nil {
		return none, nil, &protocol.StartJobFailure{Reason: protocol.StartJobArgumentValidation, Detail: err.Error()}
	}
	if interval <= 0 {
		return none, nil, &protocol.StartJobFailure{Reason: protocol.StartJobArgumentValidation, Detail: "monitor interval must be positive"}
	}
	if !proxy.Valid() {
		return none, nil, &protocol.StartJobFailure{Reason: protocol.StartJobArgumentValidation, Detail: "unsupported proxy usage " + proxy.String()}
	}
	fullPath, err := resolveSavePath(t.prefix, savePath)
	if err != nil {
		return none, nil, &protocol.StartJobFailure{Reason: protocol.StartJobArgumentValidation, Detail: err.Error()}
	}

	id, err := t.drv.CreateJob(ctx, driver.JobSpec{Name: t.name, URL: rawURL, SavePath: fullPath})
	if err != nil {
		if errors.Is(err, driver.ErrInvalidArgument) {
			return none, nil, startFailure(protocol.StartJobArgumentValidation, err)
		}
		return none, nil, startFailure(protocol.StartJobCreate, err)
	}
	log := t.logger.With().Stringer("job", id).Logger()
	log.Debug().Str("url", rawURL).Str("save_path", fullPath).Stringer("proxy", proxy).Msg("job created")

	if err := t.drv.SetProxyUsage(ctx, t.name, id, proxy); err != nil {
		t.abandon(id)
		return none, nil, startFailure(protocol.StartJobApplySettings, err)
	}
	if err := t.drv.Resume(ctx, t.name, id); err != nil {
		t.abandon(id)
		return none, nil, startFailure(protocol.StartJobResume, err)
	}
	return id, t.attach(ctx, id, interval), nil
}

func (t *inProcess) MonitorJob(ctx context.Context, id protocol.JobID, interval time.Duration) (MonitorTransport, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, &protocol.MonitorJobFailure{Reason: protocol.MonitorJobArgumentValidation, Detail: "monitor interval must be positive"}
	}
	if _, err := t.lookup(ctx, id); err != nil {
		return nil, err
	}
	return t.attach(ctx, id, interval), nil
}

func (t *inProcess) JobStatus(ctx context.Context, id protocol.JobID) (protocol.JobStatus, error) {
	if err := t.usable(); err != nil {
		return protocol.JobStatus{}, err
	}
	return t.lookup(ctx, id)
}

// lookup reads one snapshot of id without touching its priority.
func (t *inProcess) lookup(ctx context.Context, id protocol.JobID) (protocol.JobStatus, error) {
	st, err := t.drv.Status(ctx, t.name, id)
	if err != nil {
		if ce := commError(err); ce != nil {
			return protocol.JobStatus{}, ce
		}
		reason := protocol.MonitorJobGetJob
		if errors.Is(err, driver.ErrNotFound) {
			reason = protocol.MonitorJobNotFound
		}
		return protocol.JobStatus{}, &protocol.MonitorJobFailure{Reason: reason, Err: err}
	}
	return st, nil
}

func (t *inProcess) SuspendJob(ctx context.Context, id protocol.JobID) error {
	if err := t.usable(); err != nil {
		return err
	}
	err := t.drv.Suspend(ctx, t.name, id)
	if err == nil {
		return nil
	}
	if ce := commError(err); ce != nil {
		return ce
	}
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return &protocol.SuspendJobFailure{Reason: protocol.SuspendJobNotFound, Err: err}
	case errors.Is(err, driver.ErrInvalidState):
		return &protocol.SuspendJobFailure{Reason: protocol.SuspendJobInvalidState, Err: err}
	case errors.Is(err, driver.ErrInvalidArgument):
		return &protocol.SuspendJobFailure{Reason: protocol.SuspendJobOther, Err: err}
	default:
		return &protocol.SuspendJobFailure{Reason: protocol.SuspendJobSuspend, Err: err}
	}
}

func (t *inProcess) ResumeJob(ctx context.Context, id protocol.JobID) error {
	if err := t.usable(); err != nil {
		return err
	}
	err := t.drv.Resume(ctx, t.name, id)
	if err == nil {
		return nil
	}
	if ce := commError(err); ce != nil {
		return ce
	}
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return &protocol.ResumeJobFailure{Reason: protocol.ResumeJobNotFound, Err: err}
	case errors.Is(err, driver.ErrInvalidState):
		return &protocol.ResumeJobFailure{Reason: protocol.ResumeJobInvalidState, Err: err}
	case errors.Is(err, driver.ErrInvalidArgument):
		return &protocol.ResumeJobFailure{Reason: protocol.ResumeJobOther, Err: err}
	default:
		return &protocol.ResumeJobFailure{Reason: protocol.ResumeJobResume, Err: err}
	}
}

func (t *inProcess) SetJobPriority(ctx context.Context, id protocol.JobID, foreground bool) error {
	if err := t.usable(); err != nil {
		return err
	}
	p := protocol.PriorityNormal
	if foreground {
		p = protocol.PriorityForeground
	}
	err := t.drv.SetPriority(ctx, t.name, id, p)
	if err == nil {
		return nil
	}
	if ce := commError(err); ce != nil {
		return ce
	}
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return &protocol.SetJobPriorityFailure{Reason: protocol.SetJobPriorityNotFound, Err: err}
	case errors.Is(err, driver.ErrInvalidArgument):
		return &protocol.SetJobPriorityFailure{Reason: protocol.SetJobPriorityOther, Err: err}
	default:
		return &protocol.SetJobPriorityFailure{Reason: protocol.SetJobPriorityApplySettings, Err: err}
	}
}

func (t *inProcess) SetUpdateInterval(ctx context.Context, id protocol.JobID, interval time.Duration) error {
	if err := t.usable(); err != nil {
		return err
	}
	if interval <= 0 {
		return &protocol.SetUpdateIntervalFailure{Reason: protocol.SetUpdateIntervalArgumentValidation, Detail: "interval must be positive"}
	}
	t.mu.Lock()
	m := t.monitors[id]
	t.mu.Unlock()
	if m == nil {
		return &protocol.SetUpdateIntervalFailure{Reason: protocol.SetUpdateIntervalNotFound, Detail: "no active monitor for " + id.String()}
	}
	if !m.setInterval(interval) {
		return &protocol.SetUpdateIntervalFailure{Reason: protocol.SetUpdateIntervalOther, Detail: "monitor already stopped"}
	}
	return nil
}

func (t *inProcess) StopUpdate(ctx context.Context, id protocol.JobID) error {
	if err := t.usable(); err != nil {
		return err
	}
	m := t.detach(id, nil)
	if m == nil {
		return &protocol.SetUpdateIntervalFailure{Reason: protocol.SetUpdateIntervalNotFound, Detail: "no active monitor for " + id.String()}
	}
	m.stop(ctx, true)
	return nil
}

func (t *inProcess) CompleteJob(ctx context.Context, id protocol.JobID) error {
	if err := t.usable(); err != nil {
		return err
	}
	if m := t.detach(id, nil); m != nil {
		m.stop(ctx, true)
	}
	err := t.drv.Complete(ctx, t.name, id)
	if err == nil {
		t.logger.Debug().Stringer("job", id).Msg("job completed")
		return nil
	}
	if ce := commError(err); ce != nil {
		return ce
	}
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return &protocol.CompleteJobFailure{Reason: protocol.CompleteJobNotFound, Err: err}
	case errors.Is(err, driver.ErrInvalidState):
		return &protocol.CompleteJobFailure{Reason: protocol.CompleteJobInvalidState, Err: err}
	case errors.Is(err, driver.ErrInvalidArgument):
		return &protocol.CompleteJobFailure{Reason: protocol.CompleteJobOther, Err: err}
	default:
		return &protocol.CompleteJobFailure{Reason: protocol.CompleteJobComplete, Err: err}
	}
}

func (t *inProcess) CancelJob(ctx context.Context, id protocol.JobID) error {
	if err := t.usable(); err != nil {
		return err
	}
	if m := t.detach(id, nil); m != nil {
		m.stop(ctx, true)
	}
	err := t.drv.Cancel(ctx, t.name, id)
	if err == nil {
		t.logger.Debug().Stringer("job", id).Msg("job cancelled")
		return nil
	}
	if ce := commError(err); ce != nil {
		return ce
	}
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return &protocol.CancelJobFailure{Reason: protocol.CancelJobNotFound, Err: err}
	case errors.Is(err, driver.ErrInvalidState):
		return &protocol.CancelJobFailure{Reason: protocol.CancelJobInvalidState, Err: err}
	case errors.Is(err, driver.ErrInvalidArgument):
		return &protocol.CancelJobFailure{Reason: protocol.CancelJobOther, Err: err}
	default:
		return &protocol.CancelJobFailure{Reason: protocol.CancelJobCancel, Err: err}
	}
}

// Close stops every monitor, restoring priorities, then releases the driver.
func (t *inProcess) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	monitors := make([]*inProcessMonitor, 0, len(t.monitors))
	for id, m := range t.monitors {
		monitors = append(monitors, m)
		delete(t.monitors, id)
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, m := range monitors {
		m.stop(ctx, true)
	}
	if err := t.drv.Close(); err != nil {
		return pipe.API(err)
	}
	return nil
}

// attach registers a boosted monitor for id, superseding any previous one.
func (t *inProcess) attach(ctx context.Context, id protocol.JobID, interval time.Duration) *inProcessMonitor {
	m := newInProcessMonitor(t, id, interval)
	t.mu.Lock()
	old := t.monitors[id]
	t.monitors[id] = m
	t.mu.Unlock()
	if old != nil {
		old.supersede()
		m.logger.Debug().Msg("previous monitor superseded")
	}
	m.boost(ctx)
	return m
}

// detach removes the monitor registered for id. When want is non-nil it is
// removed only if it is still the registered one.
func (t *inProcess) detach(id protocol.JobID, want *inProcessMonitor) *inProcessMonitor {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.monitors[id]
	if m == nil || (want != nil && m != want) {
		return nil
	}
	delete(t.monitors, id)
	return m
}

// abandon cancels a job whose setup failed half way.
func (t *inProcess) abandon(id protocol.JobID) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := t.drv.Cancel(ctx, t.name, id); err != nil {
		t.logger.Warn().Err(err).Stringer("job", id).Msg("cancel of half-created job failed")
	}
}

func (t *inProcess) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pipe.ErrNotConnected
	}
	return nil
}

func startFailure(reason protocol.StartJobReason, err error) error {
	if ce := commError(err); ce != nil {
		return ce
	}
	return &protocol.StartJobFailure{Reason: reason, Err: err}
}

// commError picks out driver errors that describe the channel rather than
// the request: explicit pipe errors and expired or cancelled contexts.
func commError(err error) error {
	var pe *pipe.Error
	switch {
	case errors.As(err, &pe):
		return pe
	case errors.Is(err, context.DeadlineExceeded):
		return pipe.Timeout(err)
	case errors.Is(err, context.Canceled):
		return pipe.API(err)
	default:
		return nil
	}
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("missing url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

var _ Transport = (*inProcess)(nil)
