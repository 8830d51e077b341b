package mastodon

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText turns status HTML into plain text. Paragraphs are separated
// by a blank line and <br> becomes a newline.
func HTMLToText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	// Plain text may still carry entities such as &amp;
	if !strings.Contains(content, "<") {
		return strings.TrimSpace(html.UnescapeString(content))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(content))
	}

	doc.Find("br").ReplaceWithHtml("\n")
	// Mastodon hides the middle of long links in invisible spans
	doc.Find("span.invisible").Remove()

	paragraphs := doc.Find("p")
	if paragraphs.Length() == 0 {
		return strings.TrimSpace(doc.Text())
	}

	parts := make([]string, 0, paragraphs.Length())
	paragraphs.Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}
