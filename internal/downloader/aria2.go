// Package downloader speaks aria2's JSON-RPC interface.
package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/Witriol/bgxfer/internal/pipe"
)

var (
	ErrGIDNotFound      = errors.New("aria2_gid_not_found")
	ErrActionNotAllowed = errors.New("aria2_action_not_allowed")
)

// RPCError is an error object returned by aria2. It matches ErrGIDNotFound
// or ErrActionNotAllowed when the message says so.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2_rpc_error:%d:%s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrGIDNotFound:
		return isGIDNotFoundMessage(e.Message)
	case ErrActionNotAllowed:
		return isActionNotAllowedMessage(e.Message)
	}
	return false
}

func isGIDNotFoundMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no such download") ||
		strings.Contains(m, "cannot be found") ||
		strings.Contains(m, "not found")
}

func isActionNotAllowedMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "cannot be paused") ||
		strings.Contains(m, "cannot be unpaused") ||
		strings.Contains(m, "cannot be resumed") ||
		strings.Contains(m, "cannot be removed")
}

type Aria2Client struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

func NewAria2Client(endpoint, secret string, timeout time.Duration) *Aria2Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aria2Client{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call issues one RPC. Failures to reach the daemon come back as
// *pipe.Error; refusals from the daemon as *RPCError.
func (a *Aria2Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	p := params
	if a.Secret != "" {
		p = append([]interface{}{"token:" + a.Secret}, params...)
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "bgxfer", Method: method, Params: p})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return &pipe.Error{Kind: pipe.KindNotConnected, Err: err}
		}
		return pipe.API(err)
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return pipe.API(fmt.Errorf("%s: decode response (http %d): %w", method, resp.StatusCode, err))
	}
	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (a *Aria2Client) AddURI(ctx context.Context, uri string, options map[string]string) (string, error) {
	params := []interface{}{[]string{uri}, options}
	var gid string
	if err := a.call(ctx, "aria2.addUri", params, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

type Status struct {
	GID           string `json:"gid"`
	Status        string `json:"status"`
	TotalLength   string `json:"totalLength"`
	CompletedLen  string `json:"completedLength"`
	DownloadSpeed string `json:"downloadSpeed"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
	Files         []struct {
		Path string `json:"path"`
	} `json:"files"`
}

func (a *Aria2Client) TellStatus(ctx context.Context, gid string) (*Status, error) {
	var st Status
	params := []interface{}{gid, []string{"gid", "status", "totalLength", "completedLength", "downloadSpeed", "errorCode", "errorMessage", "files"}}
	if err := a.call(ctx, "aria2.tellStatus", params, &st); err != nil {
		return nil, err
	}
	if st.GID == "" {
		return nil, errors.New("aria2_empty_status")
	}
	return &st, nil
}

// GetVersion doubles as a connectivity check.
func (a *Aria2Client) GetVersion(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := a.call(ctx, "aria2.getVersion", []interface{}{}, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ChangeOption sets per-download options such as all-proxy.
func (a *Aria2Client) ChangeOption(ctx context.Context, gid string, options map[string]string) error {
	return a.call(ctx, "aria2.changeOption", []interface{}{gid, options}, nil)
}

// ChangePosition moves a download within the waiting queue. how is one of
// POS_SET, POS_CUR or POS_END.
func (a *Aria2Client) ChangePosition(ctx context.Context, gid string, pos int, how string) (int, error) {
	var out int
	if err := a.call(ctx, "aria2.changePosition", []interface{}{gid, pos, how}, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (a *Aria2Client) Pause(ctx context.Context, gid string) error {
	return a.call(ctx, "aria2.pause", []interface{}{gid}, nil)
}

func (a *Aria2Client) Unpause(ctx context.Context, gid string) error {
	return a.call(ctx, "aria2.unpause", []interface{}{gid}, nil)
}

func (a *Aria2Client) ForceRemove(ctx context.Context, gid string) error {
	return a.call(ctx, "aria2.forceRemove", []interface{}{gid}, nil)
}

// RemoveDownloadResult drops a stopped download from aria2's memory.
func (a *Aria2Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	return a.call(ctx, "aria2.removeDownloadResult", []interface{}{gid}, nil)
}
