package client

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/util"
)

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gsc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

// serveOnce answers every connection with reply and records the requests.
func serveOnce(t *testing.T, path, reply string) <-chan map[string]interface{} {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	reqs := make(chan map[string]interface{}, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			var req map[string]interface{}
			_ = json.NewDecoder(conn).Decode(&req)
			reqs <- req
			_, _ = conn.Write([]byte(reply + "\n"))
			_ = conn.Close()
		}
	}()
	return reqs
}

func TestNewClient(t *testing.T) {
	c := NewClient("/tmp/x.sock")
	assert.Equal(t, DefaultTimeout, c.timeout)

	c = NewClient("/tmp/x.sock", WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, c.timeout)
}

func TestBuildRequest(t *testing.T) {
	raw, err := buildRequest(protocol.CmdZone, map[string]string{"zone": "Deep Archive"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"zone","zone":"Deep Archive"}`, string(raw))

	raw, err = buildRequest(protocol.CmdStatus, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"status"}`, string(raw))

	_, err = buildRequest(protocol.CmdZone, []string{"nope"})
	assert.Error(t, err)
}

func TestCall_Success(t *testing.T) {
	path := socketPath(t)
	reqs := serveOnce(t, path, `{"ok":true,"presence":100}`)

	var res protocol.PresenceResult
	err := NewClient(path).Call(context.Background(), protocol.CmdPresence, map[string]int{"level": 140}, &res)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 100, res.Presence)

	req := <-reqs
	assert.Equal(t, "presence", req["cmd"])
	assert.Equal(t, float64(140), req["level"])
}

func TestCall_RemoteError(t *testing.T) {
	path := socketPath(t)
	serveOnce(t, path, `{"error":"invalid zone: unknown zone \"Atlantis\"","kind":"validation","details":{"field":"zone"}}`)

	err := NewClient(path).Call(context.Background(), protocol.CmdZone, map[string]string{"zone": "Atlantis"}, nil)
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, protocol.KindValidation, rerr.Kind)
	assert.Equal(t, "zone", rerr.Details["field"])
}

func TestAsRemoteError_RequiresKind(t *testing.T) {
	assert.Nil(t, AsRemoteError([]byte(`{"backend":"local","healthy":false,"health_error":"down"}`)))
	assert.Nil(t, AsRemoteError([]byte(`{"error":"x"}`)))
	assert.Nil(t, AsRemoteError([]byte(`not json`)))
	assert.NotNil(t, AsRemoteError([]byte(`{"error":"x","kind":"internal"}`)))
}

func TestSend_NoDaemon(t *testing.T) {
	_, err := NewClient(socketPath(t)).Send(context.Background(), []byte(`{"cmd":"status"}`))
	require.Error(t, err)
	assert.True(t, util.DefaultIsRetryable(err))
}

func TestWaitReady(t *testing.T) {
	path := socketPath(t)
	time.AfterFunc(100*time.Millisecond, func() {
		serveOnce(t, path, `{"status":"alive","soul":{"name":"Gesher-El","zone":"Resonant Center"}}`)
	})

	cfg := util.RetryConfig{MaxAttempts: 50, InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	res, err := NewClient(path, WithTimeout(time.Second)).WaitReady(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "alive", res.Status)
	assert.Equal(t, "Gesher-El", res.Soul.Name)
}
