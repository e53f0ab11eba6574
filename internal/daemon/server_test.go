package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/a2ui/internal/api"
	"github.com/g960059/a2ui/internal/config"
	"github.com/g960059/a2ui/internal/ingest"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/testutil"
	"github.com/g960059/a2ui/internal/widgets"
	"github.com/g960059/a2ui/internal/wire"
)

const formSurface = `{"type":"beginRendering","surfaceId":"s1","rootComponentId":"root","seq":1,
	"components":[
		{"id":"root","component":{"type":"column","children":{"explicitList":["name","save"]}}},
		{"id":"name","component":{"type":"textField","value":{"path":"form.name"}}},
		{"id":"save","component":{"type":"button","label":{"literalString":"Save"},
			"action":{"name":"save","context":{"name":{"path":"form.name"}}}}}
	],
	"dataModel":[{"path":"form.name","value":"Ada"}]}`

func testConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "a2uid.sock")
	cfg.OptimisticRollback = time.Minute
	cfg.GatherCacheTTL = time.Minute
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// newStoreServer wires a journaled engine and a widget registry.
func newStoreServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig(t)
	store, ctx := testutil.NewStore(t)
	codec, err := wire.NewCodec(true, cfg.MaxMessageBytes)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	registry := widgets.NewRegistry(store, codec)
	engine := ingest.NewEngineWithWidgets(ctx, store, cfg, registry)
	t.Cleanup(engine.Close)
	srv := NewServerWithDeps(cfg, engine, registry, codec)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return doRequest(t, handler, method, path, string(b))
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v body=%q", err, rec.Body.String())
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d body=%s", status, rec.Code, rec.Body.String())
	}
	payload := decodeJSON[api.ErrorResponse](t, rec)
	if payload.Error.Code != code {
		t.Fatalf("expected %s, got %+v", code, payload)
	}
}

func waitForSocket(t *testing.T, socketPath string, errCh <-chan error) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("server exited before socket was ready: %v", err)
		default:
		}
		if st, err := os.Stat(socketPath); err == nil && st.Mode()&os.ModeSocket != 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for socket %s", socketPath)
}

func TestHealthEndpointOverUDS(t *testing.T) {
	srv := newTestServer(t)
	socketPath := srv.cfg.SocketPath
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	waitForSocket(t, socketPath, errCh)

	st, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := st.Mode().Perm(); perm != 0o600 {
		t.Fatalf("socket mode = %o, want 600", perm)
	}

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}
	resp, err := client.Get("http://unix/v1/health")
	if err != nil {
		t.Fatalf("get health over uds: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if payload.SchemaVersion != "v1" || payload.Status != "ok" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("server error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server shutdown")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket should be removed on shutdown, stat err=%v", err)
	}
}

func TestStartFailsWhenSocketPathIsRegularFile(t *testing.T) {
	srv := newTestServer(t)
	socketPath := srv.cfg.SocketPath
	if err := os.WriteFile(socketPath, []byte("not-a-socket"), 0o600); err != nil {
		t.Fatalf("write regular file: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail for non-socket file")
	}
	if err := os.Remove(socketPath); err != nil {
		t.Fatalf("regular file should remain for caller cleanup, got remove error: %v", err)
	}
}

func TestSingleInstanceLock(t *testing.T) {
	cfg := testConfig(t)
	srv1, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	errCh1 := make(chan error, 1)
	go func() {
		errCh1 <- srv1.Start(ctx1)
	}()
	waitForSocket(t, cfg.SocketPath, errCh1)

	srv2, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	err = srv2.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "daemon already running") {
		t.Fatalf("expected lock contention error, got: %v", err)
	}

	cancel1()
	select {
	case err := <-errCh1:
		if err != nil && err != context.Canceled {
			t.Fatalf("server1 shutdown error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server1 shutdown")
	}
}

func TestMessagesAndSurfaceRoutes(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `[`+formSurface+`,
		{"type":"dataModelUpdate","surfaceId":"s1","path":"form","contents":[{"path":"email","value":"ada@example.com"}]}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("post messages: %d %s", rec.Code, rec.Body.String())
	}
	msgs := decodeJSON[api.MessagesResponse](t, rec)
	if len(msgs.Results) != 2 || msgs.Results[0].Type != model.MsgBeginRendering || !msgs.Results[1].Changed {
		t.Fatalf("results = %+v", msgs.Results)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces", "")
	list := decodeJSON[api.SurfacesEnvelope](t, rec)
	if len(list.Surfaces) != 1 || list.Surfaces[0].SurfaceID != "s1" || list.Surfaces[0].Components != 3 {
		t.Fatalf("surfaces = %+v", list.Surfaces)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get surface: %d %s", rec.Code, rec.Body.String())
	}
	etag := rec.Header().Get("ETag")
	env := decodeJSON[api.SurfaceEnvelope](t, rec)
	if etag != `"`+env.Summary.Fingerprint+`"` {
		t.Fatalf("etag %s does not match fingerprint %s", etag, env.Summary.Fingerprint)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	wantData := map[string]any{"form": map[string]any{"name": "Ada", "email": "ada@example.com"}}
	if diff := cmp.Diff(wantData, data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/surfaces/s1", nil)
	req.Header.Set("If-None-Match", etag)
	notModified := httptest.NewRecorder()
	h.ServeHTTP(notModified, req)
	if notModified.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching etag, got %d", notModified.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces/s1/data?path=form.name", "")
	val := decodeJSON[api.DataEnvelope](t, rec)
	if !val.Defined || val.Value != "Ada" {
		t.Fatalf("data path = %+v", val)
	}
	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces/s1/data?path=form.missing", "")
	if val := decodeJSON[api.DataEnvelope](t, rec); val.Defined {
		t.Fatalf("missing path reported defined: %+v", val)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces/s1/render", "")
	rendered := decodeJSON[api.RenderEnvelope](t, rec)
	var tree struct {
		ID       string `json:"id"`
		Children []struct {
			ID    string         `json:"id"`
			Props map[string]any `json:"props"`
		} `json:"children"`
	}
	if err := json.Unmarshal(rendered.Tree, &tree); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if tree.ID != "root" || len(tree.Children) != 2 || tree.Children[0].Props["value"] != "Ada" {
		t.Fatalf("tree = %+v", tree)
	}

	expectError(t, doRequest(t, h, http.MethodGet, "/v1/surfaces/nope", ""), http.StatusNotFound, model.ErrSurfaceNotFound)
	expectError(t, doRequest(t, h, http.MethodGet, "/v1/surfaces/nope/render", ""), http.StatusNotFound, model.ErrSurfaceNotFound)
	expectError(t, doRequest(t, h, http.MethodGet, "/v1/surfaces/s1/bogus", ""), http.StatusNotFound, model.ErrRefNotFound)
	expectError(t, doRequest(t, h, http.MethodDelete, "/v1/surfaces/s1", ""), http.StatusMethodNotAllowed, model.ErrRefInvalid)
}

func TestMessagesRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown type", `{"type":"explode","surfaceId":"s1"}`, http.StatusBadRequest, model.ErrMessageUnknownType},
		{"not json", `{"type":`, http.StatusBadRequest, model.ErrMessageInvalid},
		{"schema violation", `{"type":"deleteSurface"}`, http.StatusBadRequest, model.ErrMessageInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, doRequest(t, h, http.MethodPost, "/v1/messages", tc.body), tc.status, tc.code)
		})
	}

	if rec := doRequest(t, h, http.MethodPost, "/v1/messages", formSurface); rec.Code != http.StatusOK {
		t.Fatalf("post surface: %d %s", rec.Code, rec.Body.String())
	}
	stale := `{"type":"removeElement","surfaceId":"s1","elementId":"save","seq":1}`
	expectError(t, doRequest(t, h, http.MethodPost, "/v1/messages", stale), http.StatusConflict, model.ErrOutOfOrder)
	expectError(t, doRequest(t, h, http.MethodGet, "/v1/messages", ""), http.StatusMethodNotAllowed, model.ErrRefInvalid)
}

func TestOptimisticRoute(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	doRequest(t, h, http.MethodPost, "/v1/messages", formSurface)

	rec := doJSONRequest(t, h, http.MethodPost, "/v1/surfaces/s1/optimistic", api.OptimisticRequest{
		ComponentID: "save",
		Changes:     map[string]any{"label": "Saving"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("optimistic: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[api.OptimisticResponse](t, rec)
	if !resp.Applied || len(resp.Pending) != 1 || resp.Pending[0].ComponentID != "save" {
		t.Fatalf("optimistic response = %+v", resp)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/surfaces", "")
	if list := decodeJSON[api.SurfacesEnvelope](t, rec); list.Surfaces[0].PendingUpdates != 1 {
		t.Fatalf("pending count = %+v", list.Surfaces)
	}

	rec = doJSONRequest(t, h, http.MethodPost, "/v1/surfaces/s1/optimistic", api.OptimisticRequest{ComponentID: "ghost"})
	if resp := decodeJSON[api.OptimisticResponse](t, rec); resp.Applied {
		t.Fatalf("unknown component must not apply: %+v", resp)
	}
	expectError(t, doRequest(t, h, http.MethodPost, "/v1/surfaces/s1/optimistic", `{"component_id":"save","bogus":1}`), http.StatusBadRequest, model.ErrRefInvalid)
	expectError(t, doJSONRequest(t, h, http.MethodPost, "/v1/surfaces/none/optimistic", api.OptimisticRequest{ComponentID: "save"}), http.StatusNotFound, model.ErrSurfaceNotFound)
}

func TestElementsAndActions(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	doRequest(t, h, http.MethodPost, "/v1/messages", formSurface)

	rec := doJSONRequest(t, h, http.MethodPost, "/v1/elements", api.GatherRequest{ElementIDs: []string{"s1/name", "s1/ghost"}})
	gathered := decodeJSON[api.GatherResponse](t, rec)
	if el, ok := gathered.Elements["s1/name"]; !ok || el.Value != "Ada" || el.Path != "form.name" {
		t.Fatalf("gathered = %+v", gathered)
	}
	if _, ok := gathered.Elements["s1/ghost"]; ok {
		t.Fatalf("unknown element should be absent: %+v", gathered)
	}
	if diff := cmp.Diff([]string{"s1/name", "s1/ghost"}, gathered.RequestedIDs); diff != "" {
		t.Fatalf("requested ids (-want +got):\n%s", diff)
	}

	rec = doJSONRequest(t, h, http.MethodPost, "/v1/actions", api.ActionRequest{SurfaceID: "s1", ComponentID: "save"})
	if rec.Code != http.StatusOK {
		t.Fatalf("action: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[api.ActionResponse](t, rec)
	var ua map[string]any
	if err := json.Unmarshal(resp.UserAction, &ua); err != nil {
		t.Fatalf("decode user action: %v", err)
	}
	if ua["type"] != "userAction" || ua["name"] != "save" || ua["sourceComponentId"] != "save" {
		t.Fatalf("user action = %v", ua)
	}
	if diff := cmp.Diff(map[string]any{"name": "Ada"}, ua["context"]); diff != "" {
		t.Fatalf("context (-want +got):\n%s", diff)
	}

	expectError(t, doJSONRequest(t, h, http.MethodPost, "/v1/actions", api.ActionRequest{SurfaceID: "s1", ComponentID: "name"}), http.StatusBadRequest, model.ErrPreconditionFailed)
	expectError(t, doJSONRequest(t, h, http.MethodPost, "/v1/actions", api.ActionRequest{SurfaceID: "s1", ComponentID: "ghost"}), http.StatusNotFound, model.ErrComponentNotFound)
	expectError(t, doJSONRequest(t, h, http.MethodPost, "/v1/actions", api.ActionRequest{SurfaceID: "s1"}), http.StatusBadRequest, model.ErrRefInvalid)
}

func TestWidgetRoutes(t *testing.T) {
	srv := newStoreServer(t)
	h := srv.Handler()

	card := func(version string) string {
		return `{"id":"card","name":"Card","version":"` + version + `","rootComponentId":"root",
			"components":[{"id":"root","component":{"type":"text","text":{"literalString":"hi"}}}]}`
	}
	for _, v := range []string{"1.0.0", "1.2.0"} {
		if rec := doRequest(t, h, http.MethodPut, "/v1/widgets/card", card(v)); rec.Code != http.StatusOK {
			t.Fatalf("put %s: %d %s", v, rec.Code, rec.Body.String())
		}
	}
	expectError(t, doRequest(t, h, http.MethodPut, "/v1/widgets/other", card("1.0.0")), http.StatusBadRequest, model.ErrWidgetInvalid)
	expectError(t, doRequest(t, h, http.MethodPut, "/v1/widgets", `{"id":"bad"}`), http.StatusBadRequest, model.ErrWidgetInvalid)

	rec := doRequest(t, h, http.MethodGet, "/v1/widgets", "")
	list := decodeJSON[api.WidgetsEnvelope](t, rec)
	if len(list.Widgets) != 1 || len(list.Widgets[0].Versions) != 2 {
		t.Fatalf("widgets = %+v", list.Widgets)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/widgets/card?version=~1.0", "")
	env := decodeJSON[api.WidgetEnvelope](t, rec)
	var def model.Widget
	if err := json.Unmarshal(env.Widget, &def); err != nil {
		t.Fatalf("decode widget: %v", err)
	}
	if def.Version != "1.0.0" {
		t.Fatalf("resolved version %s, want 1.0.0", def.Version)
	}
	expectError(t, doRequest(t, h, http.MethodGet, "/v1/widgets/card?version=^9", ""), http.StatusNotFound, model.ErrWidgetNotFound)

	if rec := doRequest(t, h, http.MethodDelete, "/v1/widgets/card", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, doRequest(t, h, http.MethodDelete, "/v1/widgets/card", ""), http.StatusNotFound, model.ErrWidgetNotFound)
}

func TestWidgetRoutesNotMountedWithoutRegistry(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/widgets", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without registry, got %d", rec.Code)
	}
}

func TestJournalRoute(t *testing.T) {
	srv := newStoreServer(t)
	h := srv.Handler()
	doRequest(t, h, http.MethodPost, "/v1/messages", formSurface)
	doRequest(t, h, http.MethodPost, "/v1/messages", `{"type":"removeElement","surfaceId":"s1","elementId":"save","seq":1}`)
	doRequest(t, h, http.MethodPost, "/v1/messages", `{"type":"openDialog","route":"/x"}`)

	rec := doRequest(t, h, http.MethodGet, "/v1/journal?surface=s1", "")
	env := decodeJSON[api.JournalEnvelope](t, rec)
	var outcomes []string
	for _, e := range env.Entries {
		outcomes = append(outcomes, e.MessageType+":"+e.Outcome)
	}
	want := []string{"removeElement:rejected", "beginRendering:applied"}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Fatalf("journal (-want +got):\n%s", diff)
	}
	if !bytes.Contains(env.Entries[1].Payload, []byte(`"surfaceId":"s1"`)) {
		t.Fatalf("payload not recorded: %s", env.Entries[1].Payload)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/journal?limit=1", "")
	if env := decodeJSON[api.JournalEnvelope](t, rec); len(env.Entries) != 1 || env.Entries[0].MessageType != model.MsgOpenDialog {
		t.Fatalf("limited journal = %+v", env.Entries)
	}
	expectError(t, doRequest(t, h, http.MethodGet, "/v1/journal?limit=zero", ""), http.StatusBadRequest, model.ErrRefInvalid)
}
