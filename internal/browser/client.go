package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// ErrNotConnected is returned by operations called before Connect.
var ErrNotConnected = errors.New("browser client not connected")

const isolatedWorldName = "tabdigest"

const detachTimeout = time.Second

type Options struct {
	CDPURL    string
	Window    string
	AllFrames bool
}

// Client talks to a running browser over its remote debugging endpoint. It
// enumerates page targets and evaluates scripts inside them.
type Client struct {
	opts     Options
	registry *Registry

	mu   sync.Mutex
	conn *cdpConn
}

func NewClient(opts Options) *Client {
	if opts.Window == "" {
		opts.Window = WindowCurrent
	}
	return &Client{
		opts:     opts,
		registry: NewRegistry(),
	}
}

// Connect dials the browser and binds tab ids for every open page, so ids
// printed by an earlier process resolve right away.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	slog.Info("connecting to browser", "cdp_url", c.opts.CDPURL)
	conn := newCDPConn(c.opts.CDPURL)
	if err := conn.connect(ctx); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to browser at %s: %w", c.opts.CDPURL, err)
	}
	c.conn = conn
	c.mu.Unlock()

	pages, err := c.sync(ctx)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to connect to browser at %s: %w", c.opts.CDPURL, err)
	}

	slog.Debug("browser connected", "tabs", len(pages))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.close()
		c.conn = nil
		slog.Debug("browser client closed")
	}
	return nil
}

func (c *Client) connection() (*cdpConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// sync lists page targets and refreshes the registry from them.
func (c *Client) sync(ctx context.Context) ([]*target.Info, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	targets, err := conn.listTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}

	pages := pageTargets(targets)
	live := make([]target.ID, 0, len(pages))
	for _, t := range pages {
		live = append(live, t.TargetID)
	}
	c.registry.Sync(live)
	return pages, nil
}

// Tabs lists the open tabs of the configured window, most recently used
// first. The current window is the one holding the most recently used tab.
func (c *Client) Tabs(ctx context.Context) ([]Tab, error) {
	pages, err := c.sync(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	tabs := make([]Tab, 0, len(pages))
	for _, t := range pages {
		id, ok := c.registry.ID(t.TargetID)
		if !ok {
			continue
		}
		tabs = append(tabs, Tab{
			ID:       id,
			Title:    t.Title,
			URL:      t.URL,
			WindowID: windowOf(ctx, conn, t.TargetID),
		})
	}

	if c.opts.Window == WindowAll {
		return tabs, nil
	}
	return currentWindow(tabs), nil
}

func windowOf(ctx context.Context, conn *cdpConn, id target.ID) int {
	var out struct {
		WindowID cdpbrowser.WindowID `json:"windowId"`
	}
	params := cdpbrowser.GetWindowForTarget().WithTargetID(id)
	if err := conn.call(ctx, "", cdpbrowser.CommandGetWindowForTarget, params, &out); err != nil {
		slog.Debug("window lookup failed", "target_id", id, "error", err)
		return 0
	}
	return int(out.WindowID)
}

// Inject evaluates script in the tab's top frame and, when AllFrames is set,
// in every child frame. Results are ordered top frame first. The tab is only
// attached to for the call; it is never closed.
func (c *Client) Inject(ctx context.Context, tabID int, script string) ([]FrameResult, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	targetID, ok := c.registry.Target(tabID)
	if !ok {
		// the tab may have opened after the last listing
		if _, err := c.sync(ctx); err != nil {
			return nil, err
		}
		if targetID, ok = c.registry.Target(tabID); !ok {
			return nil, fmt.Errorf("no tab with id %d", tabID)
		}
	}

	sessionID, err := conn.attach(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to inject script into tab %d: %w", tabID, err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
		defer cancel()
		if err := conn.detach(dctx, sessionID); err != nil {
			slog.Debug("detach failed", "tab_id", tabID, "error", err)
		}
	}()

	results, err := c.evaluateFrames(ctx, conn, sessionID, tabID, script)
	if err != nil {
		return nil, fmt.Errorf("failed to inject script into tab %d: %w", tabID, err)
	}
	return results, nil
}

func (c *Client) evaluateFrames(ctx context.Context, conn *cdpConn, sessionID string, tabID int, script string) ([]FrameResult, error) {
	var tree struct {
		FrameTree *frameTree `json:"frameTree"`
	}
	if err := conn.call(ctx, sessionID, page.CommandGetFrameTree, nil, &tree); err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}
	if tree.FrameTree == nil || tree.FrameTree.Frame == nil {
		return nil, errors.New("tab has no top frame")
	}

	top, err := evaluate(ctx, conn, sessionID, script, 0)
	if err != nil {
		return nil, err
	}
	results := []FrameResult{{
		FrameID: string(tree.FrameTree.Frame.ID),
		URL:     tree.FrameTree.Frame.URL,
		Value:   top,
	}}

	if !c.opts.AllFrames {
		return results, nil
	}

	for _, frame := range childFrames(tree.FrameTree) {
		result := FrameResult{FrameID: string(frame.ID), URL: frame.URL}

		var world struct {
			ExecutionContextID runtime.ExecutionContextID `json:"executionContextId"`
		}
		params := page.CreateIsolatedWorld(frame.ID).WithWorldName(isolatedWorldName)
		if err := conn.call(ctx, sessionID, page.CommandCreateIsolatedWorld, params, &world); err != nil {
			slog.Debug("isolated world failed", "tab_id", tabID, "frame_id", frame.ID, "error", err)
			results = append(results, result)
			continue
		}
		if result.Value, err = evaluate(ctx, conn, sessionID, script, world.ExecutionContextID); err != nil {
			slog.Debug("frame evaluation failed", "tab_id", tabID, "frame_id", frame.ID, "error", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// evaluate runs script by value. A non-string result yields nil.
func evaluate(ctx context.Context, conn *cdpConn, sessionID, script string, contextID runtime.ExecutionContextID) (*string, error) {
	params := runtime.Evaluate(script).WithReturnByValue(true).WithAwaitPromise(true)
	if contextID != 0 {
		params = params.WithContextID(contextID)
	}

	var out struct {
		Result *struct {
			Type  runtime.Type    `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := conn.call(ctx, sessionID, runtime.CommandEvaluate, params, &out); err != nil {
		return nil, err
	}

	if exp := out.ExceptionDetails; exp != nil {
		msg := exp.Text
		if exp.Exception != nil && exp.Exception.Description != "" {
			msg = exp.Exception.Description
		}
		return nil, fmt.Errorf("script threw: %s", msg)
	}
	if out.Result == nil || out.Result.Type != runtime.TypeString {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(out.Result.Value, &s); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}
	return &s, nil
}

type frameTree struct {
	Frame *struct {
		ID  cdp.FrameID `json:"id"`
		URL string      `json:"url"`
	} `json:"frame"`
	ChildFrames []*frameTree `json:"childFrames"`
}

func pageTargets(targets []*target.Info) []*target.Info {
	pages := make([]*target.Info, 0, len(targets))
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		pages = append(pages, t)
	}
	return pages
}

// currentWindow keeps the tabs sharing the first tab's window.
func currentWindow(tabs []Tab) []Tab {
	if len(tabs) == 0 {
		return tabs
	}
	window := tabs[0].WindowID

	out := make([]Tab, 0, len(tabs))
	for _, t := range tabs {
		if t.WindowID == window {
			out = append(out, t)
		}
	}
	return out
}

// childFrames flattens the frame tree below the top frame, depth first.
func childFrames(tree *frameTree) []frameRef {
	var frames []frameRef
	var walk func(children []*frameTree)
	walk = func(children []*frameTree) {
		for _, child := range children {
			if child == nil || child.Frame == nil {
				continue
			}
			frames = append(frames, frameRef{ID: child.Frame.ID, URL: child.Frame.URL})
			walk(child.ChildFrames)
		}
	}
	if tree != nil {
		walk(tree.ChildFrames)
	}
	return frames
}

type frameRef struct {
	ID  cdp.FrameID
	URL string
}
