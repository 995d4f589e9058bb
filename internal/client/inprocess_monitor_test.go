package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/driver/memdriver"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

// slowReleaseDriver wakes every monitor at once and holds its poll loop in
// release until the test lets go.
type slowReleaseDriver struct {
	*memdriver.Driver
	released chan struct{}
	hold     chan struct{}
}

func (d *slowReleaseDriver) Notify(protocol.JobID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return ch, func() {
		close(d.released)
		<-d.hold
	}
}

func TestBoostAfterFailedPollLeavesPriorityAlone(t *testing.T) {
	ctx := context.Background()
	d := &slowReleaseDriver{
		Driver:   slowDriver(),
		released: make(chan struct{}),
		hold:     make(chan struct{}),
	}
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "TestJob", URL: testURL, SavePath: "/downloads/a.bin"})
	require.NoError(t, err)
	d.InjectError(memdriver.OpStatus, errors.New("registry gone"))

	tr := newInProcess(d, "TestJob", "/downloads", zerolog.Nop())
	m := newInProcessMonitor(tr, id, time.Hour)
	tr.mu.Lock()
	tr.monitors[id] = m
	tr.mu.Unlock()

	select {
	case <-d.released:
	case <-time.After(5 * time.Second):
		t.Fatalf("poll loop never exited")
	}
	// The loop has given up but loopDone is still open.
	m.boost(ctx)
	close(d.hold)
	<-m.loopDone

	_, err = m.GetStatus(ctx, 0)
	assert.True(t, pipe.IsKind(err, pipe.KindAPI))

	require.NoError(t, tr.Close())
	assert.NotContains(t, d.PriorityHistory(id), protocol.PriorityForeground)
}

func TestRetireRestoresBoostedJob(t *testing.T) {
	ctx := context.Background()
	d := slowDriver()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "TestJob", URL: testURL, SavePath: "/downloads/a.bin"})
	require.NoError(t, err)

	tr := newInProcess(d, "TestJob", "/downloads", zerolog.Nop())
	m := tr.attach(ctx, id, time.Hour)
	m.retire()
	m.boost(ctx)
	m.stop(ctx, true)

	assert.Equal(t, []protocol.Priority{protocol.PriorityForeground, protocol.PriorityNormal}, d.PriorityHistory(id))
}
