package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Witriol/bgxfer/internal/pipe"
)

func TestIsGIDNotFoundMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{msg: "", want: false},
		{msg: "No such download", want: true},
		{msg: "GID cannot be found", want: true},
		{msg: "resource not found", want: true},
		{msg: "timeout while connecting", want: false},
	}
	for _, tt := range tests {
		if got := isGIDNotFoundMessage(tt.msg); got != tt.want {
			t.Fatalf("isGIDNotFoundMessage(%q)=%v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIsActionNotAllowedMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{msg: "", want: false},
		{msg: "GID#abc cannot be paused now", want: true},
		{msg: "GID#abc cannot be unpaused now", want: true},
		{msg: "GID#abc cannot be resumed now", want: true},
		{msg: "No such download", want: false},
	}
	for _, tt := range tests {
		if got := isActionNotAllowedMessage(tt.msg); got != tt.want {
			t.Fatalf("isActionNotAllowedMessage(%q)=%v, want %v", tt.msg, got, tt.want)
		}
	}
}

type capturedCall struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newRPCServer(t *testing.T, handle func(c capturedCall) (interface{}, *rpcError)) (*httptest.Server, func() []capturedCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []capturedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c capturedCall
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		result, rerr := handle(c)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": "bgxfer"}
		if rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedCall(nil), calls...)
	}
}

func TestCallPrependsSecretToken(t *testing.T) {
	srv, calls := newRPCServer(t, func(c capturedCall) (interface{}, *rpcError) {
		return "2089b05ecca3d829", nil
	})
	a := NewAria2Client(srv.URL, "s3cret", time.Second)

	gid, err := a.AddURI(context.Background(), "http://example.com/a.bin", map[string]string{"pause": "true"})
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", gid)
	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "aria2.addUri", got[0].Method)
	assert.Equal(t, "token:s3cret", got[0].Params[0])
}

func TestRPCErrorsAreClassified(t *testing.T) {
	srv, _ := newRPCServer(t, func(c capturedCall) (interface{}, *rpcError) {
		switch c.Method {
		case "aria2.pause":
			return nil, &rpcError{Code: 1, Message: "GID#abc cannot be paused now"}
		default:
			return nil, &rpcError{Code: 1, Message: "GID abc is not found"}
		}
	})
	a := NewAria2Client(srv.URL, "", time.Second)
	ctx := context.Background()

	err := a.Pause(ctx, "abc")
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	assert.NotErrorIs(t, err, ErrGIDNotFound)

	_, err = a.TellStatus(ctx, "abc")
	assert.ErrorIs(t, err, ErrGIDNotFound)
	var rerr *RPCError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Code)
}

func TestChangePositionSendsPosSet(t *testing.T) {
	srv, calls := newRPCServer(t, func(c capturedCall) (interface{}, *rpcError) {
		return 0, nil
	})
	a := NewAria2Client(srv.URL, "", time.Second)

	pos, err := a.ChangePosition(context.Background(), "abc", 0, "POS_SET")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []interface{}{"abc", float64(0), "POS_SET"}, calls()[0].Params)
}

func TestUnreachableDaemonIsNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	a := NewAria2Client(endpoint, "", time.Second)
	_, err := a.GetVersion(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipe.ErrNotConnected)
}
