package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

type Mode string

const (
	ModeText        Mode = "text"
	ModeReadability Mode = "readability"
	ModeMarkdown    Mode = "markdown"
)

// ErrNoContent is returned when a page yields nothing worth keeping.
var ErrNoContent = errors.New("no readable content")

const (
	bodyTextScript = `(() => {
  const body = document.body;
  return body ? body.innerText : null;
})()`

	outerHTMLScript = `(() => {
  const root = document.documentElement;
  return root ? root.outerHTML : null;
})()`
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeText:
		return ModeText, nil
	case ModeReadability:
		return ModeReadability, nil
	case ModeMarkdown:
		return ModeMarkdown, nil
	default:
		return "", fmt.Errorf("unknown extraction mode: %s (available: text, readability, markdown)", s)
	}
}

// Script returns the expression evaluated inside each tab for the mode.
func (m Mode) Script() string {
	if m == ModeReadability || m == ModeMarkdown {
		return outerHTMLScript
	}
	return bodyTextScript
}

type ContentProcessor struct {
	mode Mode
}

func NewContentProcessor(mode Mode) *ContentProcessor {
	return &ContentProcessor{mode: mode}
}

func (cp *ContentProcessor) Mode() Mode {
	return cp.mode
}

func (cp *ContentProcessor) Script() string {
	return cp.mode.Script()
}

// Finish turns the raw value returned by the injected script into tab text.
// Text mode returns the value untouched.
func (cp *ContentProcessor) Finish(raw, pageURL string) (string, error) {
	switch cp.mode {
	case ModeReadability:
		article, err := cp.readable(raw, pageURL)
		if err != nil {
			return "", err
		}
		text := CleanNewlines(article.TextContent)
		if text == "" {
			return "", ErrNoContent
		}
		return text, nil
	case ModeMarkdown:
		article, err := cp.readable(raw, pageURL)
		if err != nil {
			return "", err
		}
		md := ToMarkdown(article.Title, article.Content)
		if strings.TrimSpace(md) == "" {
			md = CleanNewlines(article.TextContent)
		}
		if md == "" {
			return "", ErrNoContent
		}
		return md, nil
	default:
		return raw, nil
	}
}

func (cp *ContentProcessor) readable(html, pageURL string) (readability.Article, error) {
	var parsed *url.URL
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			parsed = u
		}
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article, nil
	}

	// readability gave up on the page; fall back to all visible text
	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if docErr != nil {
		if err != nil {
			return readability.Article{}, fmt.Errorf("failed to process with readability: %w", err)
		}
		return readability.Article{}, fmt.Errorf("failed to parse page html: %w", docErr)
	}
	doc.Find("script, style, noscript, template").Remove()
	body := doc.Find("body")
	bodyHTML, _ := body.Html()

	return readability.Article{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Content:     bodyHTML,
		TextContent: body.Text(),
	}, nil
}

// CleanNewlines joins lines that break mid-sentence and collapses runs of
// spaces, keeping blank-line paragraph breaks.
func CleanNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(paragraph, "\n") {
			line = strings.Join(strings.Fields(line), " ")
			if line == "" {
				continue
			}
			if n := len(lines); n > 0 && !endsSentence(lines[n-1]) && !startsSentence(line) {
				lines[n-1] += " " + line
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

func endsSentence(line string) bool {
	return strings.HasSuffix(line, ".") ||
		strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "?") ||
		strings.HasSuffix(line, ":") ||
		strings.HasSuffix(line, ";")
}

func startsSentence(line string) bool {
	c := line[0]
	return c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ")
}
