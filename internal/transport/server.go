// Package transport carries selector requests to a collector over HTTP.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/collector"
)

const (
	MessagesPath = "/api/v1/messages"
	TabsPath     = "/api/v1/tabs"
	HealthPath   = "/healthz"
)

type TabLister interface {
	Tabs(ctx context.Context) ([]browser.Tab, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req collector.Request) (*collector.Pending, bool)
}

type messageInput struct {
	Body collector.Request
}

type messageOutput struct {
	Body collector.Response
}

type TabsBody struct {
	Tabs []browser.Tab `json:"tabs"`
}

type tabsOutput struct {
	Body TabsBody
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func NewServer(tabs TabLister, dispatcher Dispatcher, version string) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig("tabdigest collector API", version))

	huma.Register(api, huma.Operation{OperationID: "send-message", Method: http.MethodPost, Path: MessagesPath, Summary: "Send a request to the collector", Tags: []string{"Collector"}},
		func(ctx context.Context, input *messageInput) (*messageOutput, error) {
			pending, ok := dispatcher.Dispatch(ctx, input.Body)
			if !ok {
				return nil, huma.Error400BadRequest("unsupported action: " + input.Body.Action)
			}
			resp, err := pending.Wait(ctx)
			if err != nil {
				return nil, huma.Error503ServiceUnavailable("request abandoned before the reply arrived", err)
			}
			return &messageOutput{Body: resp}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: TabsPath, Summary: "List open tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, _ *struct{}) (*tabsOutput, error) {
			list, err := tabs.Tabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			if list == nil {
				list = []browser.Tab{}
			}
			return &tabsOutput{Body: TabsBody{Tabs: list}}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: HealthPath, Summary: "Liveness check", Tags: []string{"Misc"}},
		func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	return router
}

func mapErr(err error) error {
	if errors.Is(err, browser.ErrNotConnected) {
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error502BadGateway(err.Error())
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
