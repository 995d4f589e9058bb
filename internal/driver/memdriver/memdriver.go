// Package memdriver is an in-memory driver that simulates transfers at a
// fixed rate. It backs the test-suite and the CLI's dry-run mode.
package memdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/protocol"
)

var ErrClosed = errors.New("memdriver_closed")

// Operation names accepted by InjectError.
const (
	OpCreate      = "create"
	OpSetProxy    = "set_proxy"
	OpStatus      = "status"
	OpSuspend     = "suspend"
	OpResume      = "resume"
	OpSetPriority = "set_priority"
	OpComplete    = "complete"
	OpCancel      = "cancel"
)

type Options struct {
	// Size is the simulated payload size of every job.
	Size uint64
	// Rate is the simulated throughput in bytes per second.
	Rate uint64
}

type job struct {
	id         protocol.JobID
	name       string
	url        string
	savePath   string
	proxy      protocol.ProxyUsage
	priority   protocol.Priority
	state      protocol.JobState
	size       uint64
	banked     uint64
	resumedAt  time.Time
	jobErr     *protocol.JobError
	errorCount uint32
	timer      *time.Timer
}

type Driver struct {
	mu       sync.Mutex
	opts     Options
	jobs     map[protocol.JobID]*job
	watchers map[protocol.JobID]map[int]chan struct{}
	history  map[protocol.JobID][]protocol.Priority
	nextSub  int
	injected map[string]error
	closed   bool
}

func New(opts Options) *Driver {
	if opts.Size == 0 {
		opts.Size = 1 << 20
	}
	if opts.Rate == 0 {
		opts.Rate = 512 << 10
	}
	return &Driver{
		opts:     opts,
		jobs:     make(map[protocol.JobID]*job),
		watchers: make(map[protocol.JobID]map[int]chan struct{}),
		history:  make(map[protocol.JobID][]protocol.Priority),
		injected: make(map[string]error),
	}
}

// Factory returns a driver.Factory handing out d.
func (d *Driver) Factory() driver.Factory {
	return func(context.Context) (driver.Driver, error) { return d, nil }
}

// InjectError makes every later call of op fail with err; a nil err clears it.
func (d *Driver) InjectError(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.injected, op)
		return
	}
	d.injected[op] = err
}

func (d *Driver) CreateJob(ctx context.Context, spec driver.JobSpec) (protocol.JobID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.precheck(OpCreate); err != nil {
		return protocol.JobID{}, err
	}
	if strings.TrimSpace(spec.URL) == "" || strings.TrimSpace(spec.SavePath) == "" {
		return protocol.JobID{}, fmt.Errorf("%w: url and save path are required", driver.ErrInvalidArgument)
	}
	id := uuid.New()
	d.jobs[id] = &job{
		id:       id,
		name:     spec.Name,
		url:      spec.URL,
		savePath: spec.SavePath,
		state:    protocol.StateSuspended,
		size:     d.opts.Size,
	}
	return id, nil
}

func (d *Driver) SetProxyUsage(ctx context.Context, name string, id protocol.JobID, usage protocol.ProxyUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpSetProxy, name, id)
	if err != nil {
		return err
	}
	if !usage.Valid() {
		return fmt.Errorf("%w: proxy usage %d", driver.ErrInvalidArgument, int(usage))
	}
	j.proxy = usage
	return nil
}

func (d *Driver) Status(ctx context.Context, name string, id protocol.JobID) (protocol.JobStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpStatus, name, id)
	if err != nil {
		return protocol.JobStatus{}, err
	}
	now := time.Now()
	d.settle(j, now)
	st := protocol.JobStatus{
		State: j.state,
		Progress: protocol.JobProgress{
			TotalBytes:       j.size,
			TransferredBytes: j.progress(now, d.opts.Rate),
			TotalFiles:       1,
		},
		ErrorCount: j.errorCount,
		Priority:   j.priority,
	}
	if j.state == protocol.StateTransferred {
		st.Progress.TransferredFiles = 1
	}
	if j.jobErr != nil {
		e := *j.jobErr
		st.Error = &e
	}
	return st, nil
}

func (d *Driver) Suspend(ctx context.Context, name string, id protocol.JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpSuspend, name, id)
	if err != nil {
		return err
	}
	now := time.Now()
	d.settle(j, now)
	switch j.state {
	case protocol.StateTransferred:
		return fmt.Errorf("%w: job already transferred", driver.ErrInvalidState)
	case protocol.StateTransferring:
		j.banked = j.progress(now, d.opts.Rate)
		j.resumedAt = time.Time{}
		j.stopTimer()
	}
	j.state = protocol.StateSuspended
	return nil
}

func (d *Driver) Resume(ctx context.Context, name string, id protocol.JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpResume, name, id)
	if err != nil {
		return err
	}
	now := time.Now()
	d.settle(j, now)
	switch j.state {
	case protocol.StateTransferred:
		return fmt.Errorf("%w: job already transferred", driver.ErrInvalidState)
	case protocol.StateTransferring:
		return nil
	}
	j.state = protocol.StateTransferring
	j.jobErr = nil
	j.resumedAt = now
	remaining := time.Duration(float64(j.size-j.banked) / float64(d.opts.Rate) * float64(time.Second))
	j.stopTimer()
	j.timer = time.AfterFunc(remaining, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.jobs[id] != j || j.state != protocol.StateTransferring {
			return
		}
		d.finish(j)
	})
	return nil
}

func (d *Driver) SetPriority(ctx context.Context, name string, id protocol.JobID, p protocol.Priority) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpSetPriority, name, id)
	if err != nil {
		return err
	}
	j.priority = p
	d.history[id] = append(d.history[id], p)
	return nil
}

func (d *Driver) Priority(ctx context.Context, name string, id protocol.JobID) (protocol.Priority, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup("", name, id)
	if err != nil {
		return protocol.PriorityNormal, err
	}
	return j.priority, nil
}

func (d *Driver) Complete(ctx context.Context, name string, id protocol.JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpComplete, name, id)
	if err != nil {
		return err
	}
	d.settle(j, time.Now())
	if j.state != protocol.StateTransferred {
		return fmt.Errorf("%w: job is %s", driver.ErrInvalidState, j.state)
	}
	d.dispose(id, j)
	return nil
}

func (d *Driver) Cancel(ctx context.Context, name string, id protocol.JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.lookup(OpCancel, name, id)
	if err != nil {
		return err
	}
	d.dispose(id, j)
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, j := range d.jobs {
		j.stopTimer()
	}
	return nil
}

// Notify implements driver.Notifier.
func (d *Driver) Notify(id protocol.JobID) (<-chan struct{}, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{}, 1)
	subs := d.watchers[id]
	if subs == nil {
		subs = make(map[int]chan struct{})
		d.watchers[id] = subs
	}
	key := d.nextSub
	d.nextSub++
	subs[key] = ch
	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers[id], key)
		if len(d.watchers[id]) == 0 {
			delete(d.watchers, id)
		}
	}
}

// FailJob moves a job into the error state as if the transfer broke.
func (d *Driver) FailJob(id protocol.JobID, jobErr protocol.JobError) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[id]
	if !ok {
		return driver.ErrNotFound
	}
	now := time.Now()
	if j.state == protocol.StateTransferring {
		j.banked = j.progress(now, d.opts.Rate)
		j.resumedAt = time.Time{}
	}
	j.stopTimer()
	j.state = protocol.StateError
	j.errorCount++
	j.jobErr = &jobErr
	d.signal(id)
	return nil
}

// Remove drops a job as an external actor would.
func (d *Driver) Remove(id protocol.JobID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if j, ok := d.jobs[id]; ok {
		d.dispose(id, j)
	}
}

// PriorityHistory lists every priority set on the job, oldest first. It
// survives completion and cancellation.
func (d *Driver) PriorityHistory(id protocol.JobID) []protocol.Priority {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Priority, len(d.history[id]))
	copy(out, d.history[id])
	return out
}

// Jobs returns the number of live jobs.
func (d *Driver) Jobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *Driver) precheck(op string) error {
	if d.closed {
		return ErrClosed
	}
	if err, ok := d.injected[op]; ok {
		return err
	}
	return nil
}

func (d *Driver) lookup(op, name string, id protocol.JobID) (*job, error) {
	if err := d.precheck(op); err != nil {
		return nil, err
	}
	j, ok := d.jobs[id]
	if !ok || j.name != name {
		return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, id)
	}
	return j, nil
}

// settle flips a running job to transferred once its bytes are all in.
func (d *Driver) settle(j *job, now time.Time) {
	if j.state != protocol.StateTransferring {
		return
	}
	if j.progress(now, d.opts.Rate) < j.size {
		return
	}
	d.finish(j)
}

func (d *Driver) finish(j *job) {
	j.stopTimer()
	j.banked = j.size
	j.resumedAt = time.Time{}
	j.state = protocol.StateTransferred
	d.signal(j.id)
}

func (d *Driver) dispose(id protocol.JobID, j *job) {
	j.stopTimer()
	delete(d.jobs, id)
	d.signal(id)
}

func (d *Driver) signal(id protocol.JobID) {
	for _, ch := range d.watchers[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (j *job) progress(now time.Time, rate uint64) uint64 {
	if j.resumedAt.IsZero() {
		return j.banked
	}
	elapsed := now.Sub(j.resumedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	done := j.banked + uint64(elapsed.Seconds()*float64(rate))
	if done > j.size {
		done = j.size
	}
	return done
}

func (j *job) stopTimer() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Notifier = (*Driver)(nil)
)
