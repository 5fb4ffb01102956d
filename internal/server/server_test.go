package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/soundrecorder/internal/clients"
	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"
	"github.com/audiolibrelab/soundrecorder/internal/service"
)

type fakeService struct {
	mu       sync.Mutex
	registry *clients.Registry
	calls    []string
	tag      string
	circular bool
	err      error
	snapshot service.Snapshot
}

func newFakeService() *fakeService {
	return &fakeService{registry: clients.NewRegistry()}
}

func (f *fakeService) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeService) Start(ctx context.Context, tag string, circular bool) error {
	f.mu.Lock()
	f.tag, f.circular = tag, circular
	f.mu.Unlock()
	return f.record("start")
}

func (f *fakeService) Stop(ctx context.Context) error   { return f.record("stop") }
func (f *fakeService) Pause(ctx context.Context) error  { return f.record("pause") }
func (f *fakeService) Resume(ctx context.Context) error { return f.record("resume") }

func (f *fakeService) Register(ctx context.Context, c clients.Client) error {
	return f.registry.Register(c, clients.StatusEvent(clients.StatusReady))
}

func (f *fakeService) Unregister(ctx context.Context, token uuid.UUID) (bool, error) {
	return f.registry.Unregister(token), nil
}

func (f *fakeService) Status(ctx context.Context) (service.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.err
}

func (f *fakeService) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeService) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeItems struct {
	items []library.Item
}

func (f *fakeItems) List() []library.Item { return f.items }

func (f *fakeItems) Get(ref string) (library.Item, bool) {
	for _, item := range f.items {
		if item.Ref == ref {
			return item, true
		}
	}
	return library.Item{}, false
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandleStart(t *testing.T) {
	svc := newFakeService()
	h := New(svc, nil, nil, "").Handler()

	rec := post(t, h, "/api/start", `{"tag":"rehearsal","circular":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GenericResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "rehearsal", svc.tag)
	assert.True(t, svc.circular)
}

func TestHandleStart_EmptyBody(t *testing.T) {
	svc := newFakeService()
	h := New(svc, nil, nil, "").Handler()

	rec := post(t, h, "/api/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.tag)
	assert.False(t, svc.circular)
}

func TestHandleStart_InvalidBody(t *testing.T) {
	svc := newFakeService()
	h := New(svc, nil, nil, "").Handler()

	rec := post(t, h, "/api/start", `{"tag":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.callLog())
}

func TestSessionEndpoints(t *testing.T) {
	svc := newFakeService()
	h := New(svc, nil, nil, "").Handler()

	for _, path := range []string{"/api/pause", "/api/resume", "/api/stop"} {
		rec := post(t, h, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"pause", "resume", "stop"}, svc.callLog())
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(newFakeService(), nil, nil, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/stop", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = post(t, h, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServiceErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: no mic", service.ErrPermissionDenied), http.StatusForbidden},
		{service.ErrInvalidStateTransition, http.StatusConflict},
		{service.ErrNoActiveSession, http.StatusConflict},
		{service.ErrServiceStopped, http.StatusServiceUnavailable},
		{service.ErrRecorderStartFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := newFakeService()
			svc.setErr(tt.err)
			h := New(svc, nil, nil, "").Handler()

			rec := post(t, h, "/api/start", "")
			assert.Equal(t, tt.code, rec.Code)

			var resp GenericResponse
			decode(t, rec, &resp)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	svc := newFakeService()
	svc.snapshot = service.Snapshot{State: "recording", Tag: "take", Elapsed: 12, Clients: 2}
	h := New(svc, nil, nil, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, svc.snapshot, resp.Status)
}

func TestHandleItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "take.ogg")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 2048), 0644))

	items := &fakeItems{items: []library.Item{
		{Ref: "a", Title: "take", Path: path, Size: 2048, MimeType: "audio/ogg"},
		{Ref: "b", Title: "in flight", Pending: true},
	}}
	h := New(newFakeService(), items, nil, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ItemsResponse
	decode(t, rec, &resp)
	require.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "a", resp.Items[0].Ref)
	assert.Equal(t, "2.0 KB", resp.Items[0].SizeHuman)
	assert.Equal(t, "/api/items/stream/a", resp.Items[0].StreamURL)

	req = httptest.NewRequest(http.MethodGet, "/api/items/stream/a", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/ogg", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2048, rec.Body.Len())

	for _, ref := range []string{"b", "missing"} {
		req = httptest.NewRequest(http.MethodGet, "/api/items/stream/"+ref, nil)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, ref)
	}
}

func TestHandleItems_NoLibrary(t *testing.T) {
	h := New(newFakeService(), nil, nil, "").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "3.0 MB", formatBytes(3*1024*1024))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one has the given control type, returning
// the raw messages seen before it
func readUntil(t *testing.T, conn *websocket.Conn, typ string) ([]map[string]interface{}, map[string]interface{}) {
	t.Helper()
	var seen []map[string]interface{}
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == typ {
			return seen, msg
		}
		seen = append(seen, msg)
	}
}

func TestWebSocket_RegisterReceivesEvents(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil, nil, "").Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register"}))

	before, reply := readUntil(t, conn, "registered")
	require.Len(t, before, 1)
	assert.Equal(t, "status", before[0]["kind"])
	assert.Equal(t, "ready", before[0]["status"])

	token, err := uuid.Parse(reply["token"].(string))
	require.NoError(t, err)
	assert.True(t, svc.registry.Has(token))

	svc.registry.Broadcast(clients.ElapsedEvent(7))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "elapsed", ev["kind"])
	assert.Equal(t, float64(7), ev["elapsed"])
}

func TestWebSocket_ExplicitTokenAndUnregister(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil, nil, "").Handler())
	defer srv.Close()

	token := uuid.New()
	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register", Token: token.String()}))
	_, reply := readUntil(t, conn, "registered")
	assert.Equal(t, token.String(), reply["token"])
	assert.True(t, svc.registry.Has(token))

	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "unregister"}))
	readUntil(t, conn, "unregistered")
	assert.False(t, svc.registry.Has(token))
}

func TestWebSocket_ReRegisterReplacesToken(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil, nil, "").Handler())
	defer srv.Close()

	first, second := uuid.New(), uuid.New()
	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register", Token: first.String()}))
	readUntil(t, conn, "registered")
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register", Token: second.String()}))
	_, reply := readUntil(t, conn, "registered")
	assert.Equal(t, second.String(), reply["token"])

	assert.False(t, svc.registry.Has(first))
	assert.True(t, svc.registry.Has(second))
	assert.Equal(t, 1, svc.registry.Len())

	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "unregister"}))
	readUntil(t, conn, "unregistered")
	assert.Equal(t, 0, svc.registry.Len())
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil, nil, "").Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register", Token: "not-a-uuid"}))
	_, reply := readUntil(t, conn, "error")
	assert.Equal(t, "invalid token", reply["error"])

	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "dance"}))
	_, reply = readUntil(t, conn, "error")
	assert.Contains(t, reply["error"], "unknown message type")
	assert.Equal(t, 0, svc.registry.Len())
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil, nil, "").Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ControlMessage{Type: "register"}))
	readUntil(t, conn, "registered")
	require.Equal(t, 1, svc.registry.Len())

	conn.Close()

	assert.Eventually(t, func() bool {
		return svc.registry.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWSClient_SendAfterClose(t *testing.T) {
	c := &wsClient{
		outbox: make(chan interface{}, 1),
		closed: make(chan struct{}),
		hooks:  make(map[int]func()),
	}

	fired := 0
	unlink, err := c.LinkToDeath(func() { fired++ })
	require.NoError(t, err)
	_, err = c.LinkToDeath(func() { fired++ })
	require.NoError(t, err)
	unlink()

	require.NoError(t, c.Send(clients.ElapsedEvent(1)))
	assert.ErrorIs(t, c.Send(clients.ElapsedEvent(2)), errOutboxFull)

	close(c.closed)
	c.mu.Lock()
	c.dead = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	assert.Equal(t, 1, fired)
	assert.ErrorIs(t, c.Send(clients.ElapsedEvent(3)), errConnClosed)
	_, err = c.LinkToDeath(func() {})
	assert.ErrorIs(t, err, errConnClosed)
}

func TestHandlePrefs(t *testing.T) {
	store := prefs.NewMemory()
	h := New(newFakeService(), nil, store, "").Handler()

	rec := post(t, h, "/api/prefs", `{"key":"circular_period","value":"120"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(120), store.CircularPeriod())

	rec = post(t, h, "/api/prefs", `{"key":"circular_number","value":"many"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/api/prefs", `{"key":"volume","value":"11"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/prefs", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PrefsResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Prefs, len(prefs.Keys()))
	assert.Equal(t, "120", resp.Prefs["circular_period"])
	assert.Equal(t, "false", resp.Prefs["high_quality"])
}
