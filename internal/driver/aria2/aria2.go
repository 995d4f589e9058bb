// Package aria2 implements driver.Driver on an aria2 daemon, keeping a job
// registry in SQLite so that jobs survive client restarts.
package aria2

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Witriol/bgxfer/internal/db"
	"github.com/Witriol/bgxfer/internal/downloader"
	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

const dbFile = "bgxfer.db"

type Options struct {
	RPC            string
	Secret         string
	StateDir       string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

type Driver struct {
	rpc    *downloader.Aria2Client
	conn   *sql.DB
	store  *Store
	logger zerolog.Logger
	// proxy resolves the proxy URL used for ProxyAutoDetect.
	proxy func() string
}

// Open connects to the registry and checks that the daemon answers.
func Open(ctx context.Context, opts Options) (*Driver, error) {
	if err := os.MkdirAll(opts.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	conn, err := db.Open(filepath.Join(opts.StateDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	d := &Driver{
		rpc:    downloader.NewAria2Client(opts.RPC, opts.Secret, opts.RequestTimeout),
		conn:   conn,
		store:  NewStore(conn),
		logger: opts.Logger.With().Str("driver", "aria2").Logger(),
		proxy:  proxyFromEnv,
	}
	version, err := d.rpc.GetVersion(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	d.logger.Debug().Str("version", version).Str("rpc", opts.RPC).Msg("aria2 connected")
	return d, nil
}

func Factory(opts Options) driver.Factory {
	return func(ctx context.Context) (driver.Driver, error) {
		return Open(ctx, opts)
	}
}

func (d *Driver) CreateJob(ctx context.Context, spec driver.JobSpec) (protocol.JobID, error) {
	if strings.TrimSpace(spec.URL) == "" || strings.TrimSpace(spec.SavePath) == "" {
		return protocol.JobID{}, fmt.Errorf("%w: url and save path are required", driver.ErrInvalidArgument)
	}
	gid, err := d.rpc.AddURI(ctx, spec.URL, map[string]string{
		"dir":   filepath.Dir(spec.SavePath),
		"out":   filepath.Base(spec.SavePath),
		"pause": "true",
	})
	if err != nil {
		return protocol.JobID{}, translate(err)
	}
	id := uuid.New()
	rec := &Record{GUID: id.String(), Name: spec.Name, URL: spec.URL, SavePath: spec.SavePath, EngineGID: gid}
	if err := d.store.Insert(ctx, rec); err != nil {
		if rmErr := d.rpc.ForceRemove(context.WithoutCancel(ctx), gid); rmErr != nil {
			d.logger.Warn().Err(rmErr).Str("gid", gid).Msg("remove orphaned download failed")
		}
		return protocol.JobID{}, fmt.Errorf("register job: %w", err)
	}
	d.event(ctx, rec.GUID, "info", "created gid="+gid)
	return id, nil
}

func (d *Driver) SetProxyUsage(ctx context.Context, name string, id protocol.JobID, usage protocol.ProxyUsage) error {
	rec, err := d.lookup(ctx, name, id)
	if err != nil {
		return err
	}
	switch usage {
	case protocol.ProxyPreconfig:
	case protocol.ProxyNoProxy:
		if err := d.rpc.ChangeOption(ctx, rec.EngineGID, map[string]string{"all-proxy": ""}); err != nil {
			return translate(err)
		}
	case protocol.ProxyAutoDetect:
		if err := d.rpc.ChangeOption(ctx, rec.EngineGID, map[string]string{"all-proxy": d.proxy()}); err != nil {
			return translate(err)
		}
	default:
		return fmt.Errorf("%w: proxy usage %d", driver.ErrInvalidArgument, int(usage))
	}
	return d.store.SetProxyUsage(ctx, rec.GUID, usage)
}

func (d *Driver) Status(ctx context.Context, name string, id protocol.JobID) (protocol.JobStatus, error) {
	rec, err := d.lookup(ctx, name, id)
	if err != nil {
		return protocol.JobStatus{}, err
	}
	st, err := d.rpc.TellStatus(ctx, rec.EngineGID)
	if err != nil {
		return protocol.JobStatus{}, translate(err)
	}
	out := mapStatus(st)
	out.Priority = rec.Priority
	return out, nil
}

func (d *Driver) Suspend(ctx context.Context, name string, id protocol.JobID) error {
	rec, st, err := d.current(ctx, name, id)
	if err != nil {
		return err
	}
	switch st.Status {
	case "paused":
		return nil
	case "complete", "removed":
		return fmt.Errorf("%w: download is %s", driver.ErrInvalidState, st.Status)
	}
	if err := d.rpc.Pause(ctx, rec.EngineGID); err != nil {
		return translate(err)
	}
	d.event(ctx, rec.GUID, "info", "suspended")
	return nil
}

func (d *Driver) Resume(ctx context.Context, name string, id protocol.JobID) error {
	rec, st, err := d.current(ctx, name, id)
	if err != nil {
		return err
	}
	switch st.Status {
	case "active", "waiting":
		return nil
	case "complete", "removed":
		return fmt.Errorf("%w: download is %s", driver.ErrInvalidState, st.Status)
	}
	if err := d.rpc.Unpause(ctx, rec.EngineGID); err != nil {
		return translate(err)
	}
	d.event(ctx, rec.GUID, "info", "resumed")
	return nil
}

// SetPriority moves queued downloads to the head of aria2's waiting queue.
// Active downloads only have the priority recorded.
func (d *Driver) SetPriority(ctx context.Context, name string, id protocol.JobID, p protocol.Priority) error {
	rec, st, err := d.current(ctx, name, id)
	if err != nil {
		return err
	}
	if p == protocol.PriorityForeground && (st.Status == "waiting" || st.Status == "paused") {
		if _, err := d.rpc.ChangePosition(ctx, rec.EngineGID, 0, "POS_SET"); err != nil {
			return translate(err)
		}
	}
	if err := d.store.SetPriority(ctx, rec.GUID, p); err != nil {
		return fmt.Errorf("record priority: %w", err)
	}
	return nil
}

func (d *Driver) Priority(ctx context.Context, name string, id protocol.JobID) (protocol.Priority, error) {
	rec, err := d.lookup(ctx, name, id)
	if err != nil {
		return protocol.PriorityNormal, err
	}
	return rec.Priority, nil
}

func (d *Driver) Complete(ctx context.Context, name string, id protocol.JobID) error {
	rec, st, err := d.current(ctx, name, id)
	if err != nil {
		return err
	}
	if st.Status != "complete" {
		return fmt.Errorf("%w: download is %s", driver.ErrInvalidState, st.Status)
	}
	if err := d.rpc.RemoveDownloadResult(ctx, rec.EngineGID); err != nil && !errors.Is(err, downloader.ErrGIDNotFound) {
		return translate(err)
	}
	if err := d.store.Finish(ctx, rec.GUID, StateAcknowledged); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	d.event(ctx, rec.GUID, "info", "completed")
	return nil
}

func (d *Driver) Cancel(ctx context.Context, name string, id protocol.JobID) error {
	rec, err := d.lookup(ctx, name, id)
	if err != nil {
		return err
	}
	if err := d.rpc.ForceRemove(ctx, rec.EngineGID); err != nil &&
		!errors.Is(err, downloader.ErrGIDNotFound) && !errors.Is(err, downloader.ErrActionNotAllowed) {
		return translate(err)
	}
	if err := d.rpc.RemoveDownloadResult(ctx, rec.EngineGID); err != nil && !errors.Is(err, downloader.ErrGIDNotFound) {
		d.logger.Debug().Err(err).Str("gid", rec.EngineGID).Msg("remove download result failed")
	}
	if err := d.store.Finish(ctx, rec.GUID, StateCancelled); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	d.event(ctx, rec.GUID, "info", "cancelled")
	return nil
}

func (d *Driver) Close() error {
	return d.conn.Close()
}

// Events returns the newest registry events for a job.
func (d *Driver) Events(ctx context.Context, id protocol.JobID, limit int) ([]string, error) {
	return d.store.ListEvents(ctx, id.String(), limit)
}

func (d *Driver) lookup(ctx context.Context, name string, id protocol.JobID) (*Record, error) {
	rec, err := d.store.Get(ctx, name, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return rec, nil
}

func (d *Driver) current(ctx context.Context, name string, id protocol.JobID) (*Record, *downloader.Status, error) {
	rec, err := d.lookup(ctx, name, id)
	if err != nil {
		return nil, nil, err
	}
	st, err := d.rpc.TellStatus(ctx, rec.EngineGID)
	if err != nil {
		return nil, nil, translate(err)
	}
	return rec, st, nil
}

func (d *Driver) event(ctx context.Context, guid, level, msg string) {
	if err := d.store.AddEvent(ctx, guid, level, msg); err != nil {
		d.logger.Warn().Err(err).Str("job", guid).Msg("record event failed")
	}
}

// translate maps aria2 refusals onto driver sentinels. Communication errors
// pass through untouched.
func translate(err error) error {
	var pe *pipe.Error
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, downloader.ErrGIDNotFound):
		return fmt.Errorf("%w: %v", driver.ErrNotFound, err)
	case errors.Is(err, downloader.ErrActionNotAllowed):
		return fmt.Errorf("%w: %v", driver.ErrInvalidState, err)
	default:
		return err
	}
}

func mapStatus(st *downloader.Status) protocol.JobStatus {
	total := parseUint(st.TotalLength)
	done := parseUint(st.CompletedLen)
	out := protocol.JobStatus{
		Progress: protocol.JobProgress{
			TotalBytes:       total,
			TransferredBytes: done,
			TotalFiles:       uint32(len(st.Files)),
		},
	}
	if out.Progress.TotalFiles == 0 {
		out.Progress.TotalFiles = 1
	}
	switch st.Status {
	case "active":
		out.State = protocol.StateTransferring
		if done == 0 {
			out.State = protocol.StateConnecting
		}
	case "waiting":
		out.State = protocol.StateQueued
	case "paused":
		out.State = protocol.StateSuspended
	case "complete":
		out.State = protocol.StateTransferred
		out.Progress.TransferredFiles = out.Progress.TotalFiles
	case "error":
		out.State = protocol.StateError
		code, _ := strconv.ParseInt(st.ErrorCode, 10, 32)
		out.ErrorCount = 1
		out.Error = &protocol.JobError{
			Context: errorContext(code),
			Code:    int32(code),
			Message: st.ErrorMessage,
		}
	case "removed":
		out.State = protocol.StateCancelled
	default:
		out.State = protocol.StateQueued
	}
	if total == 0 && out.State != protocol.StateTransferred {
		out.Progress.TotalBytes = protocol.UnknownSize
	}
	return out
}

// errorContext groups aria2 exit codes by the side that failed.
func errorContext(code int64) protocol.ErrorContext {
	switch code {
	case 3, 22, 24, 26:
		return protocol.ErrorContextRemoteFile
	case 9, 13, 15, 16, 17, 18:
		return protocol.ErrorContextLocalFile
	case 2, 6, 19, 23:
		return protocol.ErrorContextGeneralTransport
	case 0:
		return protocol.ErrorContextNone
	default:
		return protocol.ErrorContextUnknown
	}
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func proxyFromEnv() string {
	for _, k := range []string{"ALL_PROXY", "all_proxy", "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

var _ driver.Driver = (*Driver)(nil)
