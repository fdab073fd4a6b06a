// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/parlor/parlor/internal/gateway"
	"github.com/parlor/parlor/pkg/errutil"
)

// echoConn replies to every event with "<event>Ack" carrying the payload.
type echoConn struct {
	id     string
	srv    *gateway.Server
	closed chan struct{}
	once   sync.Once
	block  chan struct{}
}

func (c *echoConn) Handle(ctx context.Context, event string, data json.RawMessage) {
	if event == "block" {
		select {
		case <-c.block:
		case <-ctx.Done():
		}
		return
	}
	var payload any
	_ = json.Unmarshal(data, &payload)
	_ = c.srv.EmitTo(c.id, event+"Ack", payload)
}

func (c *echoConn) Close() {
	c.once.Do(func() { close(c.closed) })
}

type echoOpener struct {
	srv   *gateway.Server
	mu    sync.Mutex
	conns []*echoConn
}

func (o *echoOpener) Open(connID string) gateway.Connection {
	c := &echoConn{id: connID, srv: o.srv, closed: make(chan struct{}), block: make(chan struct{})}
	o.mu.Lock()
	o.conns = append(o.conns, c)
	o.mu.Unlock()
	return c
}

func (o *echoOpener) first(t *testing.T) *echoConn {
	t.Helper()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.conns) > 0
	}, time.Second, 5*time.Millisecond)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conns[0]
}

func startServer(t *testing.T, opts ...gateway.Option) (*gateway.Server, *echoOpener, string) {
	t.Helper()
	srv := gateway.NewServer("", opts...)
	opener := &echoOpener{srv: srv}
	ts := httptest.NewServer(srv.Handler(opener))
	t.Cleanup(ts.Close)
	return srv, opener, "ws" + strings.TrimPrefix(ts.URL, "http") + gateway.DefaultPath
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) gateway.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f gateway.Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestServer_RoundTrip(t *testing.T) {
	_, _, url := startServer(t)
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "ping", "data": map[string]string{"k": "v"}}))
	f := readFrame(t, ws)
	assert.Equal(t, "pingAck", f.Event)
	assert.JSONEq(t, `{"k":"v"}`, string(f.Data))
}

func TestServer_PreservesOrder(t *testing.T) {
	_, _, url := startServer(t)
	ws := dial(t, url)

	for i := range 20 {
		require.NoError(t, ws.WriteJSON(map[string]any{"event": "n", "data": i}))
	}
	for i := range 20 {
		f := readFrame(t, ws)
		assert.Equal(t, "nAck", f.Event)
		assert.JSONEq(t, strings.TrimSpace(string(mustJSON(t, i))), string(f.Data))
	}
}

func TestServer_NullPayload(t *testing.T) {
	_, _, url := startServer(t)
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "probe"}))
	f := readFrame(t, ws)
	assert.Equal(t, "probeAck", f.Event)
	assert.Equal(t, "null", string(f.Data))
}

func TestServer_MalformedFrame(t *testing.T) {
	_, _, url := startServer(t)
	ws := dial(t, url)

	for _, msg := range []string{`not json`, `{"data":1}`, `{"event":"  "}`} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
		f := readFrame(t, ws)
		assert.Equal(t, "error", f.Event)
		assert.JSONEq(t, `"Malformed message."`, string(f.Data))
	}

	// The connection is still usable.
	require.NoError(t, ws.WriteJSON(map[string]any{"event": "ok"}))
	assert.Equal(t, "okAck", readFrame(t, ws).Event)
}

func TestServer_EmitToIsTargeted(t *testing.T) {
	srv, _, url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)

	require.Eventually(t, func() bool { return srv.Len() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.WriteJSON(map[string]any{"event": "hi"}))
	assert.Equal(t, "hiAck", readFrame(t, a).Event)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "second client must not receive the reply")
}

func TestServer_EmitToUnknownConnection(t *testing.T) {
	srv := gateway.NewServer("")
	err := srv.EmitTo("nope", "x", nil)
	errutil.AssertErrorCode(t, err, gateway.CodeConnectionClosed)
	assert.ErrorIs(t, err, gateway.ErrConnectionClosed)
}

func TestServer_DisconnectClosesDuringInFlightEvent(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	srv := gateway.NewServer("")
	opener := &echoOpener{srv: srv}
	ts := httptest.NewServer(srv.Handler(opener))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + gateway.DefaultPath

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "block"}))
	conn := opener.first(t)

	// Close while the event is still being processed.
	require.NoError(t, ws.Close())

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close was not called on disconnect")
	}
	require.Eventually(t, func() bool { return srv.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Error(t, srv.EmitTo(conn.id, "late", nil))

	ts.Close()
	goleak.VerifyNone(t, ignore)
}

func TestServer_OriginCheck(t *testing.T) {
	_, _, url := startServer(t, gateway.WithAllowedOrigins([]string{"https://app.example"}))

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	header = http.Header{"Origin": {"https://app.example"}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = ws.Close()
}

func TestServer_MaxMessageBytes(t *testing.T) {
	_, opener, url := startServer(t, gateway.WithMaxMessageBytes(64))
	ws := dial(t, url)

	big := `{"event":"x","data":"` + strings.Repeat("a", 200) + `"}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(big)))

	conn := opener.first(t)
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("oversized message did not close the connection")
	}
}

func TestServer_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := gateway.NewServer("127.0.0.1:0", gateway.WithPath("/ws"))
	opener := &echoOpener{srv: srv}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, opener) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.NoError(t, ws.WriteJSON(map[string]any{"event": "hi"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f gateway.Frame
	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, "hiAck", f.Event)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, srv.Len())

	// The server closed the socket.
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	_ = ws.Close()
}

func TestServer_RejectsClientsAfterShutdown(t *testing.T) {
	srv := gateway.NewServer("127.0.0.1:0")
	opener := &echoOpener{srv: srv}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, opener) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	// A handler still mounted elsewhere must not admit new clients.
	ts := httptest.NewServer(srv.Handler(opener))
	defer ts.Close()
	ws := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http")+gateway.DefaultPath)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, srv.Len())

	opener.mu.Lock()
	defer opener.mu.Unlock()
	assert.Empty(t, opener.conns)
}

func TestServer_OnListen(t *testing.T) {
	addrCh := make(chan string, 1)
	srv := gateway.NewServer("127.0.0.1:0", gateway.WithOnListen(func(addr string) { addrCh <- addr }))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, &echoOpener{srv: srv}) }()

	select {
	case addr := <-addrCh:
		assert.Equal(t, srv.Addr(), addr)
	case <-time.After(2 * time.Second):
		t.Fatal("listen hook was not called")
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestServer_RunListenError(t *testing.T) {
	srv := gateway.NewServer("256.0.0.1:bad")
	err := srv.Run(context.Background(), &echoOpener{srv: srv})
	errutil.AssertErrorCode(t, err, gateway.CodeListenFailed)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
