package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// cdpConn is a browser-level CDP websocket. It never creates targets:
// sessions attach to existing tabs and detach again, so the user's windows
// stay exactly as they were.
type cdpConn struct {
	httpBase string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage
}

// cdpError is an error reply from the browser.
type cdpError struct {
	Method  string
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}

func newCDPConn(httpBase string) *cdpConn {
	return &cdpConn{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan json.RawMessage),
	}
}

func (c *cdpConn) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve debugger url: %w", err)
	}

	slog.Debug("cdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *cdpConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *cdpConn) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			c.failPending()
			return
		}

		var msg struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.ID == 0 {
			// events are not subscribed to
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- json.RawMessage(data)
		}
	}
}

func (c *cdpConn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *cdpConn) dropPending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// call sends method with params and decodes the reply's result into out. An
// empty sessionID addresses the browser itself.
func (c *cdpConn) call(ctx context.Context, sessionID, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		SessionID string `json:"sessionId,omitempty"`
		Method    string `json:"method"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, SessionID: sessionID, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal params: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.dropPending(id)
		return fmt.Errorf("%s: send failed: %w", method, err)
	}

	var raw json.RawMessage
	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: connection closed", method)
		}
		raw = resp
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *cdpError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: failed to decode reply: %w", method, err)
	}
	if envelope.Error != nil {
		envelope.Error.Method = method
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

// attach opens a flat session on an existing target.
func (c *cdpConn) attach(ctx context.Context, targetID target.ID) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	params := target.AttachToTarget(targetID).WithFlatten(true)
	if err := c.call(ctx, "", target.CommandAttachToTarget, params, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// detach ends a session. The target itself stays open.
func (c *cdpConn) detach(ctx context.Context, sessionID string) error {
	params := target.DetachFromTarget().WithSessionID(target.SessionID(sessionID))
	return c.call(ctx, "", target.CommandDetachFromTarget, params, nil)
}

// listTargets reads /json/list. The browser orders it by last activity, most
// recent first.
func (c *cdpConn) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := c.getJSON(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

func (c *cdpConn) browserWSURL(ctx context.Context) (string, error) {
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := c.getJSON(ctx, "/json/version", &info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

func (c *cdpConn) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
