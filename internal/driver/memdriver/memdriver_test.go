package memdriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/protocol"
)

func TestJobTransfersAfterResume(t *testing.T) {
	d := New(Options{Size: 1000, Rate: 20000})
	ctx := context.Background()

	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "TestJob", URL: "http://host/file.bin", SavePath: "/dl/file.bin"})
	require.NoError(t, err)

	st, err := d.Status(ctx, "TestJob", id)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateSuspended, st.State)

	changes, release := d.Notify(id)
	defer release()

	require.NoError(t, d.Resume(ctx, "TestJob", id))
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a change notification when the transfer finished")
	}

	st, err = d.Status(ctx, "TestJob", id)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateTransferred, st.State)
	assert.Equal(t, uint64(1000), st.Progress.TransferredBytes)
	assert.Equal(t, uint32(1), st.Progress.TransferredFiles)
}

func TestJobsAreScopedByName(t *testing.T) {
	d := New(Options{})
	ctx := context.Background()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "A", URL: "http://host/a", SavePath: "/dl/a"})
	require.NoError(t, err)

	_, err = d.Status(ctx, "B", id)
	assert.ErrorIs(t, err, driver.ErrNotFound)
	assert.ErrorIs(t, d.Cancel(ctx, "B", id), driver.ErrNotFound)
	assert.Equal(t, 1, d.Jobs())
}

func TestCompleteRequiresTransferred(t *testing.T) {
	d := New(Options{Size: 1 << 30, Rate: 1})
	ctx := context.Background()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "A", URL: "http://host/a", SavePath: "/dl/a"})
	require.NoError(t, err)
	require.NoError(t, d.Resume(ctx, "A", id))

	assert.ErrorIs(t, d.Complete(ctx, "A", id), driver.ErrInvalidState)

	require.NoError(t, d.Cancel(ctx, "A", id))
	_, err = d.Status(ctx, "A", id)
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestSuspendBanksProgress(t *testing.T) {
	d := New(Options{Size: 1 << 30, Rate: 1 << 20})
	ctx := context.Background()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "A", URL: "http://host/a", SavePath: "/dl/a"})
	require.NoError(t, err)
	require.NoError(t, d.Resume(ctx, "A", id))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Suspend(ctx, "A", id))

	first, err := d.Status(ctx, "A", id)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	second, err := d.Status(ctx, "A", id)
	require.NoError(t, err)

	assert.Equal(t, protocol.StateSuspended, second.State)
	assert.Greater(t, first.Progress.TransferredBytes, uint64(0))
	assert.Equal(t, first.Progress.TransferredBytes, second.Progress.TransferredBytes)
}

func TestFailJobSignalsAndReportsError(t *testing.T) {
	d := New(Options{Size: 1 << 30, Rate: 1})
	ctx := context.Background()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "A", URL: "http://host/a", SavePath: "/dl/a"})
	require.NoError(t, err)
	require.NoError(t, d.Resume(ctx, "A", id))

	changes, release := d.Notify(id)
	defer release()
	require.NoError(t, d.FailJob(id, protocol.JobError{Context: protocol.ErrorContextRemoteFile, Code: 404, Message: "not found"}))

	select {
	case <-changes:
	default:
		t.Fatalf("expected notification on failure")
	}
	st, err := d.Status(ctx, "A", id)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateError, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, int32(404), st.Error.Code)
	assert.Equal(t, uint32(1), st.ErrorCount)
}

func TestInjectedErrorsAndPriorityHistory(t *testing.T) {
	d := New(Options{})
	ctx := context.Background()
	id, err := d.CreateJob(ctx, driver.JobSpec{Name: "A", URL: "http://host/a", SavePath: "/dl/a"})
	require.NoError(t, err)

	require.NoError(t, d.SetPriority(ctx, "A", id, protocol.PriorityForeground))
	boom := errors.New("boom")
	d.InjectError(OpSetPriority, boom)
	assert.ErrorIs(t, d.SetPriority(ctx, "A", id, protocol.PriorityNormal), boom)
	d.InjectError(OpSetPriority, nil)
	require.NoError(t, d.SetPriority(ctx, "A", id, protocol.PriorityNormal))

	require.NoError(t, d.Cancel(ctx, "A", id))
	assert.Equal(t, []protocol.Priority{protocol.PriorityForeground, protocol.PriorityNormal}, d.PriorityHistory(id))
}
