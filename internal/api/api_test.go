package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoredede21/xss-educational-lab/internal/catalog"
	"github.com/victoredede21/xss-educational-lab/internal/dispatch"
	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/execution"
	"github.com/victoredede21/xss-educational-lab/internal/hub"
	"github.com/victoredede21/xss-educational-lab/internal/ratelimit"
	"github.com/victoredede21/xss-educational-lab/internal/session"
	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

type testServer struct {
	*httptest.Server
	observers *hub.Hub
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	st := store.NewMemory()
	events := eventlog.New(st, nil)
	sessions := session.NewManager(st, events, 0)
	cat := catalog.New(st)
	_, err := cat.Seed(context.Background(), "")
	require.NoError(t, err)
	tracker := execution.NewTracker(st, events)

	observers := hub.New(nil)
	d := dispatch.New(dispatch.Config{
		Sessions:  sessions,
		Catalog:   cat,
		Tracker:   tracker,
		Events:    events,
		Observers: observers,
	})
	observers.SetHandler(d)

	if limiter == nil {
		limiter = ratelimit.NewLimiter(6000, 1000)
	}
	h := NewHandler(Deps{
		Dispatcher: d,
		Sessions:   sessions,
		Catalog:    cat,
		Tracker:    tracker,
		Events:     events,
	})
	srv := httptest.NewServer(h.SetupRoutes(observers, limiter))
	t.Cleanup(func() {
		observers.Close()
		srv.Close()
	})
	return &testServer{Server: srv, observers: observers}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) getList(t *testing.T, path string) []map[string]any {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *testServer) observe(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.observers.ClientCount() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestEndToEndHookExecuteResult(t *testing.T) {
	s := newTestServer(t, nil)
	obs := s.observe(t)

	status, hooked := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, hooked["success"])
	assert.Equal(t, float64(5000), hooked["pollIntervalMs"])
	assert.Equal(t, s.URL+"/hook.js", hooked["hookUrl"])
	assert.Empty(t, hooked["commands"])
	token := hooked["sessionId"].(string)

	ev := readEvent(t, obs)
	assert.Equal(t, models.EventTypeNewHook, ev["type"])
	browser := ev["browser"].(map[string]any)
	assert.Equal(t, float64(1), browser["id"])
	assert.Equal(t, true, browser["isOnline"])

	status, executed := s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1, "moduleId": 4})
	require.Equal(t, http.StatusOK, status)
	execution := executed["execution"].(map[string]any)
	assert.Equal(t, float64(1), execution["id"])
	assert.Equal(t, "pending", execution["status"])

	ev = readEvent(t, obs)
	assert.Equal(t, models.EventTypeExecuteCommand, ev["type"])
	assert.Equal(t, float64(1), ev["sessionId"])
	assert.Equal(t, float64(1), ev["executionId"])

	status, polled := s.do(t, "POST", "/api/hook/poll", map[string]any{"sessionId": token})
	require.Equal(t, http.StatusOK, status)
	commands := polled["commands"].([]any)
	require.Len(t, commands, 1)
	cmd := commands[0].(map[string]any)
	assert.Equal(t, float64(1), cmd["executionId"])
	assert.Contains(t, cmd["code"], "document.title")

	status, _ = s.do(t, "POST", "/api/hook/result", map[string]any{
		"sessionId":   token,
		"executionId": 1,
		"result":      map[string]any{"ok": true},
	})
	require.Equal(t, http.StatusOK, status)

	ev = readEvent(t, obs)
	assert.Equal(t, models.EventTypeCommandCompleted, ev["type"])
	completed := ev["execution"].(map[string]any)
	assert.Equal(t, "completed", completed["status"])
	assert.Equal(t, map[string]any{"ok": true}, completed["result"])

	status, again := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, token, again["sessionId"])

	sessions := s.getList(t, "/api/sessions")
	require.Len(t, sessions, 1)
	assert.Equal(t, float64(1), sessions[0]["id"])
	assert.Equal(t, "Active", sessions[0]["status"])

	logs := s.getList(t, "/api/logs/session/1")
	var events []string
	for _, l := range logs {
		events = append(events, l["event"].(string))
	}
	assert.Equal(t, []string{models.EventBrowserHooked, models.EventCommandSent, models.EventCommandCompleted}, events)
}

func TestHookProtocolErrors(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	require.Equal(t, http.StatusOK, status)
	owner := body["sessionId"].(string)
	_, body = s.do(t, "POST", "/api/hook", map[string]any{"ip": "5.6.7.8", "userAgent": "Y"})
	other := body["sessionId"].(string)

	status, body = s.do(t, "POST", "/api/hook/poll", map[string]any{"sessionId": "missing"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])

	status, _ = s.do(t, "POST", "/api/hook/poll", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1, "moduleId": 999})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1, "moduleId": 1})
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, "POST", "/api/hook/result", map[string]any{"sessionId": other, "executionId": 1, "result": "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, "POST", "/api/hook/result", map[string]any{"sessionId": owner, "executionId": 42, "result": "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, "POST", "/api/hook/result", map[string]any{"sessionId": owner, "executionId": 1, "result": "first"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, "POST", "/api/hook/result", map[string]any{"sessionId": owner, "executionId": 1, "result": "second"})
	assert.Equal(t, http.StatusConflict, status)

	execs := s.getList(t, "/api/executions/session/1")
	require.Len(t, execs, 1)
	assert.Equal(t, "first", execs[0]["result"])
}

func TestHookFallsBackToRequestIdentity(t *testing.T) {
	s := newTestServer(t, nil)

	req, err := http.NewRequest("POST", s.URL+"/api/hook", strings.NewReader(`{"pageUrl":"http://victim.local/"}`))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "lab-agent/1.0")
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessions := s.getList(t, "/api/sessions")
	require.Len(t, sessions, 1)
	assert.Equal(t, "9.9.9.9", sessions[0]["ipAddress"])
	assert.Equal(t, "lab-agent/1.0", sessions[0]["userAgent"])
	assert.Equal(t, "http://victim.local/", sessions[0]["pageUrl"])
}

func TestHookRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimit.NewLimiter(60, 2))

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
		require.Equal(t, http.StatusOK, status)
	}
	status, body := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, false, body["success"])

	// operator endpoints are not limited
	status, _ = s.do(t, "GET", "/api/hooks/count", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1, "moduleId": 1})

	status, body := s.do(t, "GET", "/api/sessions/1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1.2.3.4", body["ipAddress"])

	status, counts := s.do(t, "GET", "/api/hooks/count", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), counts["total"])
	assert.Equal(t, float64(1), counts["active"])

	status, body = s.do(t, "DELETE", "/api/sessions/1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = s.do(t, "DELETE", "/api/sessions/1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(t, "GET", "/api/sessions/1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Empty(t, s.getList(t, "/api/executions"))
}

func TestModuleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	modules := s.getList(t, "/api/modules")
	require.NotEmpty(t, modules)

	categories := s.getList(t, "/api/modules/categories")
	require.NotEmpty(t, categories)
	first := categories[0]["category"].(string)

	byCategory := s.getList(t, "/api/modules/category/"+first)
	assert.Len(t, byCategory, int(categories[0]["count"].(float64)))

	status, created := s.do(t, "POST", "/api/modules", map[string]any{
		"name":     "Read Cookies",
		"category": "Demo",
		"code":     "return document.cookie;",
	})
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(float64)

	status, got := s.do(t, "GET", "/api/modules/"+jsonNumber(id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Read Cookies", got["name"])

	status, _ = s.do(t, "POST", "/api/modules", map[string]any{"name": "No code", "category": "Demo"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "GET", "/api/modules/999", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLogEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	status, entry := s.do(t, "POST", "/api/logs", map[string]any{
		"event":   "operator_note",
		"level":   "warning",
		"details": map[string]any{"note": "lab started"},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "warning", entry["level"])

	status, _ = s.do(t, "POST", "/api/logs", map[string]any{"event": "x", "level": "fatal"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "POST", "/api/logs", map[string]any{"event": "x", "browserId": 77})
	assert.Equal(t, http.StatusNotFound, status)

	logs := s.getList(t, "/api/logs")
	require.Len(t, logs, 1)
	assert.Equal(t, "operator_note", logs[0]["event"])
}

func TestHookScriptAndPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Get(s.URL + "/hook.js")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, string(raw), "/api/hook/poll")

	req, err := http.NewRequest("OPTIONS", s.URL+"/api/hook/poll", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	status, health := s.do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health["status"])
}

func TestObserverCommandResult(t *testing.T) {
	s := newTestServer(t, nil)
	_, body := s.do(t, "POST", "/api/hook", map[string]any{"ip": "1.2.3.4", "userAgent": "X"})
	token := body["sessionId"].(string)
	s.do(t, "POST", "/api/execute", map[string]any{"sessionId": 1, "moduleId": 1})

	obs := s.observe(t)
	require.NoError(t, obs.WriteJSON(map[string]any{
		"type":        models.MessageCommandResult,
		"sessionId":   token,
		"executionId": 1,
		"result":      map[string]any{"via": "ws"},
	}))

	ev := readEvent(t, obs)
	assert.Equal(t, models.EventTypeCommandCompleted, ev["type"])

	execs := s.getList(t, "/api/executions")
	require.Len(t, execs, 1)
	assert.Equal(t, "completed", execs[0]["status"])
}

func jsonNumber(f float64) string {
	raw, _ := json.Marshal(int64(f))
	return string(raw)
}
