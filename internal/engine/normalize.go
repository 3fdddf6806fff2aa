package engine

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeText strips markup from rich-text submissions and collapses
// whitespace so the content hash is stable across cosmetic formatting.
func normalizeText(input string) string {
	text := input

	if strings.Contains(input, "<") && strings.Contains(input, ">") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
		if err == nil {
			doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
				s.Remove()
			})
			if extracted := doc.Text(); strings.TrimSpace(extracted) != "" {
				text = extracted
			}
		}
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
