package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/lore/internal/auth"
	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/sandbox"
)

// mockCaller implements ToolCaller for testing
type mockCaller struct {
	callFunc func(ctx context.Context, route extension.Route, tool string, args map[string]any, tc extension.ToolContext) (any, error)
	status   []sandbox.WorkerStatus
}

func (m *mockCaller) CallTool(ctx context.Context, route extension.Route, tool string, args map[string]any, tc extension.ToolContext) (any, error) {
	return m.callFunc(ctx, route, tool, args, tc)
}

func (m *mockCaller) Status() []sandbox.WorkerStatus {
	return m.status
}

// mockHistory implements CallHistory for testing
type mockHistory struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	m.limit = limit
	return m.entries, m.err
}

func testRegistry(t *testing.T) *extension.Registry {
	t.Helper()
	reg := extension.NewRegistry()
	for _, ext := range []*extension.Installed{
		{Name: "notes", Package: "lore-notes", Description: "Note tools", Route: extension.Route{ExtensionName: "notes", ModulePath: "/ext/notes/notes.so"}},
		{Name: "broken", Package: "lore-broken", Route: extension.Route{ExtensionName: "broken", ModulePath: "/ext/broken/broken.so"}},
	} {
		if err := reg.Add(ext); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return reg
}

func newTestServer(t *testing.T, cfg Config, caller ToolCaller, history CallHistory) http.Handler {
	t.Helper()
	return New(cfg, caller, testRegistry(t), history, log.Discard()).Handler()
}

func doRequest(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHandleCallToolSuccess(t *testing.T) {
	var got struct {
		route extension.Route
		tool  string
		args  map[string]any
		tc    extension.ToolContext
	}
	caller := &mockCaller{callFunc: func(_ context.Context, route extension.Route, tool string, args map[string]any, tc extension.ToolContext) (any, error) {
		got.route, got.tool, got.args, got.tc = route, tool, args, tc
		return map[string]any{"echo": args["text"]}, nil
	}}
	h := newTestServer(t, Config{DataDir: "/data", DBPath: "/data/lore.db"}, caller, nil)

	rr := doRequest(h, http.MethodPost, "/extensions/notes/tools/echo", "", CallRequest{Args: map[string]any{"text": "hi"}})
	assert.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[CallResponse](t, rr)
	assert.Equal(t, "notes", resp.Extension)
	assert.Equal(t, "echo", resp.Tool)
	assert.Equal(t, map[string]any{"echo": "hi"}, resp.Result)

	assert.Equal(t, "/ext/notes/notes.so", got.route.ModulePath)
	assert.Equal(t, "echo", got.tool)
	assert.Equal(t, "api", got.tc.Mode)
	assert.Equal(t, "/data/lore.db", got.tc.DBPath)
	assert.NotNil(t, got.tc.Logger)
}

func TestHandleCallToolEmptyBody(t *testing.T) {
	caller := &mockCaller{callFunc: func(_ context.Context, _ extension.Route, _ string, args map[string]any, _ extension.ToolContext) (any, error) {
		return len(args), nil
	}}
	h := newTestServer(t, Config{}, caller, nil)

	rr := doRequest(h, http.MethodPost, "/extensions/notes/tools/count", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), decodeBody[CallResponse](t, rr).Result)
}

func TestHandleCallToolBadRequests(t *testing.T) {
	caller := &mockCaller{callFunc: func(context.Context, extension.Route, string, map[string]any, extension.ToolContext) (any, error) {
		t.Fatal("tool must not be called")
		return nil, nil
	}}
	h := newTestServer(t, Config{}, caller, nil)

	rr := doRequest(h, http.MethodPost, "/extensions/missing/tools/echo", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "extension not found: missing", decodeBody[ErrorResponse](t, rr).Error)

	req := httptest.NewRequest(http.MethodPost, "/extensions/notes/tools/echo", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallToolErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{&sandbox.CallError{Kind: sandbox.KindHandler, Msg: "boom"}, http.StatusUnprocessableEntity, "handler"},
		{&sandbox.CallError{Kind: sandbox.KindToolNotFound, Msg: "Tool not found: x"}, http.StatusNotFound, "tool_not_found"},
		{&sandbox.CallError{Kind: sandbox.KindUnavailable, Msg: "failed to load"}, http.StatusServiceUnavailable, "unavailable"},
		{&sandbox.CallError{Kind: sandbox.KindTimeout, Msg: "Tool x timed out after 30000ms"}, http.StatusGatewayTimeout, "timeout"},
		{&sandbox.CallError{Kind: sandbox.KindWorkerExited, Msg: "Worker exited for notes"}, http.StatusBadGateway, "worker_exited"},
		{&sandbox.CallError{Kind: sandbox.KindWorkerError, Msg: "Worker error in notes"}, http.StatusBadGateway, "worker_error"},
		{&sandbox.CallError{Kind: sandbox.KindSpawn, Msg: "Failed to start worker for notes: x"}, http.StatusBadGateway, "spawn"},
		{errors.New("unexpected"), http.StatusInternalServerError, ""},
		{context.Canceled, http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			caller := &mockCaller{callFunc: func(context.Context, extension.Route, string, map[string]any, extension.ToolContext) (any, error) {
				return nil, tt.err
			}}
			h := newTestServer(t, Config{}, caller, nil)

			rr := doRequest(h, http.MethodPost, "/extensions/notes/tools/x", "", nil)
			assert.Equal(t, tt.code, rr.Code)
			resp := decodeBody[ErrorResponse](t, rr)
			assert.Equal(t, tt.kind, resp.Kind)
			if tt.kind != "" {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestAuthAndScopes(t *testing.T) {
	caller := &mockCaller{callFunc: func(context.Context, extension.Route, string, map[string]any, extension.ToolContext) (any, error) {
		return "ok", nil
	}}
	cfg := Config{
		APIKey: "admin",
		Tokens: []auth.TokenConfig{{Token: "viewer", Scopes: []string{auth.ScopeExtensionsRead}}},
	}
	h := newTestServer(t, cfg, caller, nil)

	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/openapi.json", "", nil).Code)

	assert.Equal(t, http.StatusUnauthorized, doRequest(h, http.MethodGet, "/extensions", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(h, http.MethodGet, "/extensions", "wrong", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/extensions", "viewer", nil).Code)

	assert.Equal(t, http.StatusForbidden, doRequest(h, http.MethodPost, "/extensions/notes/tools/echo", "viewer", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/extensions/notes/tools/echo", "admin", nil).Code)
}

func TestHandleListExtensions(t *testing.T) {
	caller := &mockCaller{status: []sandbox.WorkerStatus{
		{ModulePath: "/ext/broken/broken.so", Extension: "broken", Unavailable: "bad module"},
		{ModulePath: "/ext/notes/notes.so", Extension: "notes", Live: true, Pending: 1},
	}}
	h := newTestServer(t, Config{}, caller, nil)

	rr := doRequest(h, http.MethodGet, "/extensions", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	exts := decodeBody[[]ExtensionResponse](t, rr)
	if assert.Len(t, exts, 2) {
		assert.Equal(t, "broken", exts[0].Name)
		assert.Equal(t, "bad module", exts[0].Unavailable)
		assert.False(t, exts[0].WorkerLive)
		assert.Equal(t, "notes", exts[1].Name)
		assert.True(t, exts[1].WorkerLive)
		assert.Equal(t, "Note tools", exts[1].Description)
	}

	health := decodeBody[HealthzResponse](t, doRequest(h, http.MethodGet, "/healthz", "", nil))
	assert.Equal(t, 2, health.ExtensionsLoaded)
	assert.Equal(t, 1, health.WorkersLive)
	assert.Equal(t, 1, health.Unavailable)
}

func TestHandleListCalls(t *testing.T) {
	h := newTestServer(t, Config{}, &mockCaller{}, nil)
	assert.Equal(t, http.StatusNotFound, doRequest(h, http.MethodGet, "/calls", "", nil).Code)

	history := &mockHistory{entries: []journal.Entry{{ID: "c1", Extension: "notes", Tool: "echo", Status: journal.StatusSucceeded, StartedAt: time.Now()}}}
	h = newTestServer(t, Config{}, &mockCaller{}, history)

	rr := doRequest(h, http.MethodGet, "/calls?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, history.limit)
	resp := decodeBody[CallsResponse](t, rr)
	if assert.Len(t, resp.Calls, 1) {
		assert.Equal(t, "c1", resp.Calls[0].ID)
	}

	assert.Equal(t, http.StatusBadRequest, doRequest(h, http.MethodGet, "/calls?limit=zero", "", nil).Code)

	history.err = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, doRequest(h, http.MethodGet, "/calls", "", nil).Code)
}

func TestOpenAPIDoc(t *testing.T) {
	h := newTestServer(t, Config{}, &mockCaller{}, nil)

	doc := decodeBody[map[string]any](t, doRequest(h, http.MethodGet, "/openapi.json", "", nil))
	assert.Equal(t, "3.1.0", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/extensions/notes/tools/{tool}")
	assert.Contains(t, paths, "/extensions/broken/tools/{tool}")
	op := paths["/extensions/notes/tools/{tool}"].(map[string]any)["post"].(map[string]any)
	assert.Equal(t, "Note tools", op["summary"])
	assert.Equal(t, "notes__call", op["operationId"])
}
