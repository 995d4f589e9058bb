package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/driver/memdriver"
	"github.com/Witriol/bgxfer/internal/protocol"
)

// sharedDriver survives Client.Close so state carries across invocations.
type sharedDriver struct {
	*memdriver.Driver
}

func (sharedDriver) Close() error { return nil }

func runCLI(t *testing.T, d *memdriver.Driver, args ...string) (string, error) {
	t.Helper()
	shared := sharedDriver{d}
	cmd := newRootCommandWith(&commandContext{
		factory: func(context.Context) (driver.Driver, error) { return shared, nil },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--driver", "memory", "--prefix", t.TempDir()}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStartWithCompleteFollowsJobToTheEnd(t *testing.T) {
	t.Setenv("BGXFER_CLIENT_MONITOR_INTERVAL_MS", "20")
	t.Setenv("BGXFER_LOGGING_LEVEL", "error")
	d := memdriver.New(memdriver.Options{Size: 64 << 10, Rate: 1 << 20})

	out, err := runCLI(t, d, "start", "http://example.com/a.bin", "a.bin", "--complete")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	id, err := protocol.ParseJobID(lines[0])
	require.NoError(t, err, "first line should be the job id: %q", out)
	assert.Contains(t, out, "transferred")
	assert.Contains(t, out, "completed: "+id.String())
	assert.Equal(t, 0, d.Jobs())
}

func TestJobCommandsAcrossInvocations(t *testing.T) {
	t.Setenv("BGXFER_LOGGING_LEVEL", "error")
	d := memdriver.New(memdriver.Options{Size: 1 << 30, Rate: 1})

	out, err := runCLI(t, d, "start", "http://example.com/a.bin", "a.bin", "--proxy", "none")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = runCLI(t, d, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, "transferring")
	assert.Contains(t, out, id)

	out, err = runCLI(t, d, "priority", id, "foreground")
	require.NoError(t, err)
	assert.Contains(t, out, "priority foreground")

	out, err = runCLI(t, d, "suspend", id)
	require.NoError(t, err)
	assert.Equal(t, "suspended: "+id+"\n", out)

	_, err = runCLI(t, d, "resume", id)
	require.NoError(t, err)

	_, err = runCLI(t, d, "cancel", id)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Jobs())

	_, err = runCLI(t, d, "cancel", id)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(describeError(err), "execution error: "), describeError(err))
}

func TestStatusKeepsForegroundPriority(t *testing.T) {
	t.Setenv("BGXFER_LOGGING_LEVEL", "error")
	d := memdriver.New(memdriver.Options{Size: 1 << 30, Rate: 1})

	out, err := runCLI(t, d, "start", "http://example.com/a.bin", "a.bin")
	require.NoError(t, err)
	id, err := protocol.ParseJobID(strings.TrimSpace(out))
	require.NoError(t, err)

	_, err = runCLI(t, d, "priority", id.String(), "foreground")
	require.NoError(t, err)
	before := d.PriorityHistory(id)
	require.Equal(t, protocol.PriorityForeground, before[len(before)-1])

	out, err = runCLI(t, d, "status", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "foreground")
	assert.Equal(t, before, d.PriorityHistory(id))
}

func TestStartRejectsUnknownProxy(t *testing.T) {
	d := memdriver.New(memdriver.Options{})
	_, err := runCLI(t, d, "start", "http://example.com/a.bin", "a.bin", "--proxy", "socks")
	assert.Error(t, err)
	assert.Equal(t, 0, d.Jobs())
}

func TestMonitorUnknownJob(t *testing.T) {
	d := memdriver.New(memdriver.Options{})
	_, err := runCLI(t, d, "monitor", "{6B29FC40-CA47-1067-B31D-00DD010662DA}")
	require.Error(t, err)
	assert.Contains(t, describeError(err), "execution error")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, memdriver.New(memdriver.Options{}), "version")
	require.NoError(t, err)
	assert.Equal(t, "bgxfer (dev)\n", out)
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "512 B / ?", formatProgress(protocol.JobProgress{TotalBytes: protocol.UnknownSize, TransferredBytes: 512}))
	assert.Equal(t, "1.0 KiB / 2.0 KiB (50.0%)", formatProgress(protocol.JobProgress{TotalBytes: 2048, TransferredBytes: 1024}))
}
