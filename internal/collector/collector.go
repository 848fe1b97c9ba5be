// Package collector turns a tab selection into one combined text and a single
// summary reply.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/byteowlz/tabdigest/internal/extract"
)

type Options struct {
	Extractor  Extractor
	Summarizer Summarizer
	// TabTimeout bounds each injection; zero means no limit.
	TabTimeout time.Duration
	// Delay is slept between consecutive tabs.
	Delay  time.Duration
	Logger *slog.Logger
}

type Collector struct {
	host Injector
	opts Options
}

// Batch is the result of one collection pass.
type Batch struct {
	Contents []TabContent
	Combined string
	Summary  string
}

// Failed counts tabs without content.
func (b *Batch) Failed() int {
	n := 0
	for _, c := range b.Contents {
		if c.Content == nil {
			n++
		}
	}
	return n
}

func New(host Injector, opts Options) *Collector {
	if opts.Extractor == nil {
		opts.Extractor = extract.NewContentProcessor(extract.ModeText)
	}
	if opts.Summarizer == nil {
		opts.Summarizer = Placeholder{}
	}
	return &Collector{host: host, opts: opts}
}

func (c *Collector) logger() *slog.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	return slog.Default()
}

// Dispatch starts handling req and returns its pending reply. Requests with
// any other action are refused with false and nothing happens. The pass is
// detached from ctx cancellation; once accepted it runs to completion.
func (c *Collector) Dispatch(ctx context.Context, req Request) (*Pending, bool) {
	if req.Action != ActionProcessTabs {
		c.logger().Debug("ignoring request", "action", req.Action)
		return nil, false
	}

	ids := append([]int(nil), req.TabIDs...)
	runCtx := context.WithoutCancel(ctx)
	p := newPending()
	go func() {
		p.resolve(c.Process(runCtx, ids))
	}()
	return p, true
}

// Process runs a pass and folds the outcome into a Response.
func (c *Collector) Process(ctx context.Context, tabIDs []int) Response {
	batch, err := c.Run(ctx, tabIDs)
	if err != nil {
		c.logger().Error("tab batch failed", "tabs", len(tabIDs), "error", err)
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Summary: batch.Summary}
}

// Run collects every tab in order, builds the combined text and summarizes
// it. Tab failures are recorded in the batch; the error is reserved for
// failures of the pass itself.
func (c *Collector) Run(ctx context.Context, tabIDs []int) (batch *Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch = nil
			err = fmt.Errorf("collection pass failed: %v", r)
		}
	}()

	start := time.Now()
	contents := c.Collect(ctx, tabIDs)
	combined := Combine(contents)

	summary, err := c.opts.Summarizer.Summarize(ctx, combined, len(contents))
	if err != nil {
		var perr *ProviderError
		if !errors.As(err, &perr) {
			err = &ProviderError{Provider: providerName(c.opts.Summarizer), Err: err}
		}
		return nil, err
	}

	batch = &Batch{Contents: contents, Combined: combined, Summary: summary}
	c.logger().Info("tab batch processed",
		"tabs", len(contents),
		"failed", batch.Failed(),
		"combined_length", TextLength(combined),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return batch, nil
}

// Collect extracts each tab one at a time. The result has exactly one entry
// per id, in the same order.
func (c *Collector) Collect(ctx context.Context, tabIDs []int) []TabContent {
	results := make([]TabContent, 0, len(tabIDs))
	script := c.opts.Extractor.Script()

	for i, id := range tabIDs {
		if i > 0 && c.opts.Delay > 0 {
			sleep(ctx, c.opts.Delay)
		}
		results = append(results, c.collectOne(ctx, id, script))
	}
	return results
}

func (c *Collector) collectOne(ctx context.Context, tabID int, script string) (tc TabContent) {
	log := c.logger().With("tab_id", tabID)

	// a panic in one tab fails that tab, not the pass
	defer func() {
		if r := recover(); r != nil {
			log.Error("tab injection panicked", "panic", r)
			tc = TabContent{TabID: tabID, Error: fmt.Sprintf("injection panicked: %v", r)}
		}
	}()

	tabCtx := ctx
	if c.opts.TabTimeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(ctx, c.opts.TabTimeout)
		defer cancel()
	}

	frames, err := c.host.Inject(tabCtx, tabID, script)
	if err != nil {
		log.Warn("tab injection failed", "error", err)
		return TabContent{TabID: tabID, Error: err.Error()}
	}

	if len(frames) == 0 || frames[0].Value == nil || *frames[0].Value == "" {
		log.Warn("tab returned no content", "frames", len(frames))
		return TabContent{TabID: tabID, Error: ErrExtractionFailed}
	}

	text, err := c.opts.Extractor.Finish(*frames[0].Value, frames[0].URL)
	if err != nil {
		log.Warn("tab content processing failed", "error", err)
		return TabContent{TabID: tabID, Error: fmt.Sprintf("%s: %v", ErrExtractionFailed, err)}
	}
	if text == "" {
		log.Warn("tab content empty after processing")
		return TabContent{TabID: tabID, Error: ErrExtractionFailed}
	}

	log.Debug("tab collected", "length", TextLength(text))
	return TabContent{TabID: tabID, Content: &text}
}

// Combine renders each tab as a "Tab <id>:" header followed by its content,
// joined by Separator.
func Combine(contents []TabContent) string {
	blocks := make([]string, 0, len(contents))
	for _, tc := range contents {
		body := MissingContent
		if tc.Content != nil && *tc.Content != "" {
			body = *tc.Content
		}
		blocks = append(blocks, Header(tc.TabID)+body)
	}
	return strings.Join(blocks, Separator)
}

// Header is the line that opens a tab block.
func Header(tabID int) string {
	return "Tab " + strconv.Itoa(tabID) + ":\n"
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Pending is a reply that will be delivered exactly once.
type Pending struct {
	once sync.Once
	done chan struct{}
	resp Response
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(resp Response) {
	p.once.Do(func() {
		p.resp = resp
		close(p.done)
	})
}

// Done is closed once the reply is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the reply arrives or ctx ends. Giving up on the wait does
// not stop the pass.
func (p *Pending) Wait(ctx context.Context) (Response, error) {
	select {
	case <-p.done:
		return p.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
