package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/collector"
	"github.com/byteowlz/tabdigest/internal/config"
	"github.com/byteowlz/tabdigest/internal/extract"
	"github.com/byteowlz/tabdigest/internal/transport"
)

// backend is what the commands talk to: an in-process collector attached to
// the browser, or a remote one behind "tabdigest serve".
type backend interface {
	Tabs(ctx context.Context) ([]browser.Tab, error)
	Send(ctx context.Context, req collector.Request) (collector.Response, error)
	Digest(ctx context.Context, tabIDs []int) (*digest, error)
	Close() error
}

// digest is the outcome of one process run. Combined and Failed are only
// known for in-process runs.
type digest struct {
	Response collector.Response
	Combined string
	Failed   int
	Local    bool
}

func newBackend(ctx context.Context, c *config.Config) (backend, error) {
	if c.Client.Remote != "" {
		slog.Debug("using remote collector", "url", c.Client.Remote)
		return &remoteBackend{client: transport.NewClient(c.Client.Remote, 0)}, nil
	}

	bc, coll, err := newLocalCollector(ctx, c)
	if err != nil {
		return nil, err
	}
	return &localBackend{browser: bc, collector: coll}, nil
}

func newLocalCollector(ctx context.Context, c *config.Config) (*browser.Client, *collector.Collector, error) {
	bc := browser.NewClient(browser.Options{
		CDPURL:    c.Browser.CDPURL,
		Window:    c.Browser.Window,
		AllFrames: c.Collect.AllFrames,
	})
	if err := bc.Connect(ctx); err != nil {
		return nil, nil, err
	}

	coll := collector.New(bc, collector.Options{
		Extractor:  extract.NewContentProcessor(extractionMode(c)),
		TabTimeout: time.Duration(c.Collect.TabTimeout) * time.Second,
		Delay:      time.Duration(c.Collect.DelayMS) * time.Millisecond,
		Logger:     slog.Default(),
	})
	return bc, coll, nil
}

type localBackend struct {
	browser   *browser.Client
	collector *collector.Collector
}

func (b *localBackend) Tabs(ctx context.Context) ([]browser.Tab, error) {
	return b.browser.Tabs(ctx)
}

func (b *localBackend) Send(ctx context.Context, req collector.Request) (collector.Response, error) {
	pending, ok := b.collector.Dispatch(ctx, req)
	if !ok {
		return collector.Response{}, fmt.Errorf("unsupported action: %s", req.Action)
	}
	return pending.Wait(ctx)
}

func (b *localBackend) Digest(ctx context.Context, tabIDs []int) (*digest, error) {
	batch, err := b.collector.Run(ctx, tabIDs)
	if err != nil {
		return &digest{Response: collector.Response{Success: false, Error: err.Error()}, Local: true}, nil
	}
	return &digest{
		Response: collector.Response{Success: true, Summary: batch.Summary},
		Combined: batch.Combined,
		Failed:   batch.Failed(),
		Local:    true,
	}, nil
}

func (b *localBackend) Close() error {
	return b.browser.Close()
}

type remoteBackend struct {
	client *transport.Client
}

func (b *remoteBackend) Tabs(ctx context.Context) ([]browser.Tab, error) {
	return b.client.Tabs(ctx)
}

func (b *remoteBackend) Send(ctx context.Context, req collector.Request) (collector.Response, error) {
	return b.client.Send(ctx, req)
}

func (b *remoteBackend) Digest(ctx context.Context, tabIDs []int) (*digest, error) {
	resp, err := b.client.Send(ctx, collector.Request{Action: collector.ActionProcessTabs, TabIDs: tabIDs})
	if err != nil {
		return nil, err
	}
	return &digest{Response: resp}, nil
}

func (b *remoteBackend) Close() error { return nil }
