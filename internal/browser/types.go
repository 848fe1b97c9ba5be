package browser

// Tab is one open page in the browser.
type Tab struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	WindowID int    `json:"windowId"`
}

// FrameResult is the value an injected script produced in one frame. Value
// is nil when the script returned anything other than a string.
type FrameResult struct {
	FrameID string
	URL     string
	Value   *string
}

const (
	WindowCurrent = "current"
	WindowAll     = "all"
)
