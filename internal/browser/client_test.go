package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeTarget struct {
	ID     string
	Type   string
	Title  string
	URL    string
	Window int
}

// fakeBrowser serves the debugging endpoints of a browser with a fixed set of
// targets. Each page has a top frame and one child frame.
type fakeBrowser struct {
	mu         sync.Mutex
	targets    []fakeTarget
	methods    []string
	worldNames []string
}

const childContextID = 42

func newFakeBrowser(t *testing.T, targets ...fakeTarget) (*fakeBrowser, *httptest.Server) {
	t.Helper()

	fb := &fakeBrowser{targets: targets}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		list := make([]map[string]string, 0, len(fb.targets))
		for _, ft := range fb.targets {
			list = append(list, map[string]string{
				"id": ft.ID, "type": ft.Type, "title": ft.Title, "url": ft.URL,
			})
		}
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBrowser) addTarget(ft fakeTarget) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.targets = append(fb.targets, ft)
}

func (fb *fakeBrowser) sent(method string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, m := range fb.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}

		var req struct {
			ID        int64          `json:"id"`
			SessionID string         `json:"sessionId"`
			Method    string         `json:"method"`
			Params    map[string]any `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		result, cdpErr := fb.handle(req.SessionID, req.Method, req.Params)
		reply := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			reply["sessionId"] = req.SessionID
		}
		if cdpErr != "" {
			reply["error"] = map[string]any{"code": -32000, "message": cdpErr}
		} else {
			reply["result"] = result
		}

		out, _ := json.Marshal(reply)
		if err := wsutil.WriteServerText(conn, out); err != nil {
			return
		}
	}
}

func (fb *fakeBrowser) handle(sessionID, method string, params map[string]any) (any, string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.methods = append(fb.methods, method)

	tid := strings.TrimPrefix(sessionID, "S-")
	switch method {
	case "Browser.getWindowForTarget":
		id, _ := params["targetId"].(string)
		for _, ft := range fb.targets {
			if ft.ID == id {
				return map[string]any{"windowId": ft.Window}, ""
			}
		}
		return nil, "No target with given id found"

	case "Target.attachToTarget":
		if flatten, _ := params["flatten"].(bool); !flatten {
			return nil, "only flat sessions are supported"
		}
		id, _ := params["targetId"].(string)
		return map[string]any{"sessionId": "S-" + id}, ""

	case "Target.detachFromTarget":
		return map[string]any{}, ""

	case "Page.getFrameTree":
		return map[string]any{
			"frameTree": map[string]any{
				"frame": map[string]any{"id": "top-" + tid, "url": "https://" + tid + ".example/"},
				"childFrames": []any{
					map[string]any{"frame": map[string]any{"id": "child-" + tid, "url": "https://ads.example/"}},
				},
			},
		}, ""

	case "Page.createIsolatedWorld":
		name, _ := params["worldName"].(string)
		fb.worldNames = append(fb.worldNames, name)
		return map[string]any{"executionContextId": childContextID}, ""

	case "Runtime.evaluate":
		if expr, _ := params["expression"].(string); expr == "throw" {
			return map[string]any{
				"result":           map[string]any{"type": "object"},
				"exceptionDetails": map[string]any{"text": "Uncaught", "exception": map[string]any{"description": "Error: boom"}},
			}, ""
		}
		if expr, _ := params["expression"].(string); expr == "number" {
			return map[string]any{"result": map[string]any{"type": "number", "value": 3}}, ""
		}
		if ctxID, ok := params["contextId"].(float64); ok && int(ctxID) == childContextID {
			return map[string]any{"result": map[string]any{"type": "string", "value": "child text of " + tid}}, ""
		}
		return map[string]any{"result": map[string]any{"type": "string", "value": "text of " + tid}}, ""

	default:
		return map[string]any{}, ""
	}
}

func connectedClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.CDPURL = srv.URL
	c := NewClient(opts)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// The list is ordered most recently used first, as the browser reports it.
var windowedTargets = []fakeTarget{
	{ID: "T1", Type: "page", Title: "Docs", URL: "https://docs.example/", Window: 2},
	{ID: "T2", Type: "page", Title: "Mail", URL: "https://mail.example/", Window: 1},
	{ID: "SW", Type: "service_worker", URL: "https://docs.example/sw.js"},
	{ID: "T3", Type: "page", Title: "News", URL: "https://news.example/", Window: 2},
}

func tabIDs(tabs []Tab) []int {
	ids := make([]int, 0, len(tabs))
	for _, tab := range tabs {
		ids = append(ids, tab.ID)
	}
	return ids
}

func TestClient_TabsCurrentWindow(t *testing.T) {
	fb, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{})

	tabs, err := c.Tabs(context.Background())
	if err != nil {
		t.Fatalf("Tabs() error = %v", err)
	}

	want := []int{TabID("T1"), TabID("T3")}
	if got := tabIDs(tabs); !slices.Equal(got, want) {
		t.Fatalf("Tabs() ids = %v, want %v", got, want)
	}
	if tabs[0].Title != "Docs" || tabs[0].URL != "https://docs.example/" || tabs[0].WindowID != 2 {
		t.Errorf("first tab = %+v", tabs[0])
	}
	if n := fb.sent("Target.createTarget"); n != 0 {
		t.Errorf("Target.createTarget sent %d times", n)
	}
}

func TestClient_TabsAllWindows(t *testing.T) {
	_, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{Window: WindowAll})

	tabs, err := c.Tabs(context.Background())
	if err != nil {
		t.Fatalf("Tabs() error = %v", err)
	}

	want := []int{TabID("T1"), TabID("T2"), TabID("T3")}
	if got := tabIDs(tabs); !slices.Equal(got, want) {
		t.Fatalf("Tabs() ids = %v, want %v", got, want)
	}
}

func TestClient_InjectTopFrame(t *testing.T) {
	fb, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{})

	results, err := c.Inject(context.Background(), TabID("T2"), "document.body.innerText")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Inject() returned %d frames, want 1", len(results))
	}

	top := results[0]
	if top.FrameID != "top-T2" || top.URL != "https://T2.example/" {
		t.Errorf("top frame = %+v", top)
	}
	if top.Value == nil || *top.Value != "text of T2" {
		t.Errorf("top frame value = %v", top.Value)
	}

	if n := fb.sent("Target.detachFromTarget"); n != 1 {
		t.Errorf("Target.detachFromTarget sent %d times, want 1", n)
	}
	if n := fb.sent("Target.closeTarget"); n != 0 {
		t.Errorf("Target.closeTarget sent %d times, want 0", n)
	}
}

func TestClient_InjectAllFrames(t *testing.T) {
	fb, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{AllFrames: true})

	results, err := c.Inject(context.Background(), TabID("T1"), "document.body.innerText")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Inject() returned %d frames, want 2", len(results))
	}

	if results[0].Value == nil || *results[0].Value != "text of T1" {
		t.Errorf("top frame value = %v", results[0].Value)
	}
	child := results[1]
	if child.FrameID != "child-T1" || child.URL != "https://ads.example/" {
		t.Errorf("child frame = %+v", child)
	}
	if child.Value == nil || *child.Value != "child text of T1" {
		t.Errorf("child frame value = %v", child.Value)
	}

	fb.mu.Lock()
	worlds := slices.Clone(fb.worldNames)
	fb.mu.Unlock()
	if !slices.Equal(worlds, []string{isolatedWorldName}) {
		t.Errorf("isolated worlds = %v", worlds)
	}
	if n := fb.sent("Target.closeTarget"); n != 0 {
		t.Errorf("Target.closeTarget sent %d times, want 0", n)
	}
}

func TestClient_InjectWithoutListing(t *testing.T) {
	_, srv := newFakeBrowser(t, windowedTargets...)

	// a fresh client resolves ids printed by an earlier one
	c := connectedClient(t, srv, Options{})
	results, err := c.Inject(context.Background(), TabID("T3"), "x")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if results[0].Value == nil || *results[0].Value != "text of T3" {
		t.Errorf("value = %v", results[0].Value)
	}
}

func TestClient_InjectTabOpenedAfterConnect(t *testing.T) {
	fb, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{})

	fb.addTarget(fakeTarget{ID: "T9", Type: "page", URL: "https://late.example/", Window: 2})

	results, err := c.Inject(context.Background(), TabID("T9"), "x")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if results[0].Value == nil || *results[0].Value != "text of T9" {
		t.Errorf("value = %v", results[0].Value)
	}
}

func TestClient_InjectUnknownTab(t *testing.T) {
	_, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{})

	_, err := c.Inject(context.Background(), 0, "x")
	if err == nil {
		t.Fatal("Inject() with unknown id should fail")
	}
	if !strings.Contains(err.Error(), "no tab with id 0") {
		t.Errorf("Inject() error = %q", err.Error())
	}
}

func TestClient_InjectResultTypes(t *testing.T) {
	fb, srv := newFakeBrowser(t, windowedTargets...)
	c := connectedClient(t, srv, Options{})

	results, err := c.Inject(context.Background(), TabID("T1"), "number")
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if results[0].Value != nil {
		t.Errorf("non-string result = %q, want nil", *results[0].Value)
	}

	_, err = c.Inject(context.Background(), TabID("T1"), "throw")
	if err == nil || !strings.Contains(err.Error(), "Error: boom") {
		t.Fatalf("Inject() error = %v, want script exception", err)
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("tab %d", TabID("T1"))) {
		t.Errorf("error does not name the tab: %v", err)
	}

	// the session is released even when the script throws
	if n := fb.sent("Target.detachFromTarget"); n != 2 {
		t.Errorf("Target.detachFromTarget sent %d times, want 2", n)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient(Options{CDPURL: srv.URL})
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() should fail without a debugger endpoint")
	}
	if !strings.Contains(err.Error(), srv.URL) {
		t.Errorf("Connect() error = %q, want the endpoint named", err.Error())
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(Options{CDPURL: "http://127.0.0.1:1"})

	if _, err := c.Tabs(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Tabs() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.Inject(context.Background(), TabID("tab-1"), "1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Inject() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on unconnected client = %v", err)
	}
}

func TestPageTargets(t *testing.T) {
	targets := []*target.Info{
		{TargetID: target.ID("tab-1"), Type: "page", URL: "https://example.com"},
		{TargetID: target.ID("sw-1"), Type: "service_worker", URL: "https://example.com/sw.js"},
		nil,
		{TargetID: target.ID("tab-2"), Type: "page", URL: "chrome://settings"},
		{TargetID: target.ID("frame-1"), Type: "iframe", URL: "https://ads.example.com"},
	}

	got := pageTargets(targets)
	if len(got) != 2 {
		t.Fatalf("pageTargets() len = %d, want 2", len(got))
	}
	if got[0].TargetID != target.ID("tab-1") || got[1].TargetID != target.ID("tab-2") {
		t.Fatalf("pageTargets() = %q, %q", got[0].TargetID, got[1].TargetID)
	}
}

func TestCurrentWindow(t *testing.T) {
	tabs := []Tab{
		{ID: 1, WindowID: 7},
		{ID: 2, WindowID: 9},
		{ID: 3, WindowID: 7},
	}

	got := currentWindow(tabs)
	if ids := tabIDs(got); !slices.Equal(ids, []int{1, 3}) {
		t.Fatalf("currentWindow() ids = %v, want [1 3]", ids)
	}
	if got := currentWindow(nil); len(got) != 0 {
		t.Errorf("currentWindow(nil) = %v", got)
	}
}

func TestChildFrames(t *testing.T) {
	var tree frameTree
	raw := `{"frame":{"id":"top"},"childFrames":[
		{"frame":{"id":"a"},"childFrames":[{"frame":{"id":"a1"}}]},
		{},
		{"frame":{"id":"b","url":"https://b.example/"}}
	]}`
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		t.Fatalf("decode frame tree: %v", err)
	}

	got := childFrames(&tree)
	want := []string{"a", "a1", "b"}
	if len(got) != len(want) {
		t.Fatalf("childFrames() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i].ID) != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}
	if got[2].URL != "https://b.example/" {
		t.Errorf("frame b url = %q", got[2].URL)
	}

	if got := childFrames(nil); len(got) != 0 {
		t.Errorf("childFrames(nil) = %v", got)
	}
}

func TestNewClient_DefaultWindow(t *testing.T) {
	c := NewClient(Options{})
	if c.opts.Window != WindowCurrent {
		t.Errorf("default window = %q, want %q", c.opts.Window, WindowCurrent)
	}
}
