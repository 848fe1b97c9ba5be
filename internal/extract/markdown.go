package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ToMarkdown renders article HTML as markdown, prefixed with the title as a
// level one heading when present.
func ToMarkdown(title, articleHTML string) string {
	var md strings.Builder
	if title != "" {
		fmt.Fprintf(&md, "# %s\n\n", strings.TrimSpace(title))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		return md.String()
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	writeMarkdown(root, &md)

	return strings.TrimSpace(collapseBlankLines(md.String()))
}

func writeMarkdown(sel *goquery.Selection, md *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		switch node.Type {
		case html.TextNode:
			if text := strings.Join(strings.Fields(node.Data), " "); text != "" {
				md.WriteString(text)
				md.WriteString(" ")
			}
		case html.ElementNode:
			writeElement(s, strings.ToLower(node.Data), md)
		}
	})
}

func writeElement(s *goquery.Selection, tag string, md *strings.Builder) {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(tag[1] - '0')
		fmt.Fprintf(md, "\n\n%s %s\n\n", strings.Repeat("#", level), strings.TrimSpace(s.Text()))
	case "p":
		var inner strings.Builder
		writeMarkdown(s, &inner)
		if text := strings.TrimSpace(inner.String()); text != "" {
			fmt.Fprintf(md, "\n\n%s\n\n", text)
		}
	case "br":
		md.WriteString("\n")
	case "a":
		text := strings.TrimSpace(s.Text())
		if href, ok := s.Attr("href"); ok && href != "" && text != "" {
			fmt.Fprintf(md, "[%s](%s) ", text, href)
		} else if text != "" {
			md.WriteString(text + " ")
		}
	case "strong", "b":
		fmt.Fprintf(md, "**%s** ", strings.TrimSpace(s.Text()))
	case "em", "i":
		fmt.Fprintf(md, "*%s* ", strings.TrimSpace(s.Text()))
	case "code":
		fmt.Fprintf(md, "`%s` ", s.Text())
	case "pre":
		fmt.Fprintf(md, "\n\n```\n%s\n```\n\n", strings.TrimRight(s.Text(), "\n"))
	case "blockquote":
		md.WriteString("\n\n")
		for _, line := range strings.Split(s.Text(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(md, "> %s\n", line)
			}
		}
		md.WriteString("\n")
	case "ul", "ol":
		md.WriteString("\n\n")
		writeList(s, md, tag == "ol", 0)
	case "img":
		if src, ok := s.Attr("src"); ok {
			fmt.Fprintf(md, "\n\n![%s](%s)\n\n", s.AttrOr("alt", ""), src)
		}
	case "script", "style", "noscript":
	default:
		writeMarkdown(s, md)
	}
}

func writeList(sel *goquery.Selection, md *strings.Builder, ordered bool, depth int) {
	prefix := strings.Repeat("  ", depth)
	sel.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", i+1)
		}

		own := li.Clone()
		own.Find("ul, ol").Remove()
		fmt.Fprintf(md, "%s%s%s\n", prefix, marker, strings.Join(strings.Fields(own.Text()), " "))

		li.ChildrenFiltered("ul, ol").Each(func(_ int, nested *goquery.Selection) {
			writeList(nested, md, nested.Is("ol"), depth+1)
		})
	})
	md.WriteString("\n")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
