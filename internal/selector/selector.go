// Package selector is the terminal tab picker: one checkbox per tab, a single
// request on submit and the reply rendered in place.
package selector

import (
	"context"
	"strings"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/collector"
)

const (
	EmptySelectionMessage = "Please select at least one tab."
	FallbackMessage       = "Error processing."
)

type TabSource interface {
	Tabs(ctx context.Context) ([]browser.Tab, error)
}

type Sender interface {
	Send(ctx context.Context, req collector.Request) (collector.Response, error)
}

// Eligible drops tabs the browser will not let us inject into: tabs without a
// URL and tabs whose URL starts with a restricted scheme.
func Eligible(tabs []browser.Tab, restricted []string) []browser.Tab {
	out := make([]browser.Tab, 0, len(tabs))
	for _, t := range tabs {
		if IsRestricted(t.URL, restricted) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func IsRestricted(url string, restricted []string) bool {
	if strings.TrimSpace(url) == "" {
		return true
	}
	lower := strings.ToLower(url)
	for _, scheme := range restricted {
		if scheme != "" && strings.HasPrefix(lower, strings.ToLower(scheme)) {
			return true
		}
	}
	return false
}

// NewRequest builds the processTabs request for ids.
func NewRequest(ids []int) collector.Request {
	return collector.Request{Action: collector.ActionProcessTabs, TabIDs: ids}
}

// RenderResponse is the text shown for a reply. A failed batch shows its
// error; anything unusable shows FallbackMessage.
func RenderResponse(resp collector.Response, err error) string {
	switch {
	case err != nil:
		return FallbackMessage
	case resp.Success && resp.Summary != "":
		return resp.Summary
	case !resp.Success && resp.Error != "":
		return "Error: " + resp.Error
	default:
		return FallbackMessage
	}
}
