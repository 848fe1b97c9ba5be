package collector

import (
	"context"

	"github.com/byteowlz/tabdigest/internal/browser"
)

// ActionProcessTabs is the only request action the collector handles.
const ActionProcessTabs = "processTabs"

const (
	// ErrExtractionFailed is recorded when injection worked but the top frame
	// produced nothing usable.
	ErrExtractionFailed = "extraction failed"

	// MissingContent stands in for a tab without content in the combined text.
	MissingContent = "Could not get content."

	// Separator goes between tab blocks in the combined text.
	Separator = "\n\n---\n\n"
)

type Request struct {
	Action string `json:"action" doc:"Request type, only processTabs is handled" example:"processTabs"`
	TabIDs []int  `json:"tabIds" required:"false" doc:"Tab ids in selection order"`
}

// Response is the single reply to a request: a summary on success, an error
// description otherwise.
type Response struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TabContent is the outcome of extracting one tab. Content is nil when the
// tab failed, with Error saying why.
type TabContent struct {
	TabID   int     `json:"tabId"`
	Content *string `json:"content"`
	Error   string  `json:"error,omitempty"`
}

// Injector runs a script inside a tab and returns one result per frame, top
// frame first.
type Injector interface {
	Inject(ctx context.Context, tabID int, script string) ([]browser.FrameResult, error)
}

// Extractor supplies the injected script and turns its raw output into tab
// text.
type Extractor interface {
	Script() string
	Finish(raw, pageURL string) (string, error)
}
