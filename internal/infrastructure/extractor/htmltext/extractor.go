package htmltext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor"
)

var skipped = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "head": true}

type Format struct{}

func New() Format {
	return Format{}
}

func (Format) Name() string {
	return "html"
}

func (Format) Accepts(ext, mimeType string, head []byte) bool {
	if ext == "html" || ext == "htm" || mimeType == "text/html" || mimeType == "application/xhtml+xml" {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}

// Extract walks the token stream and keeps visible text nodes.
func (Format) Extract(raw []byte) (domain.Extraction, error) {
	z := html.NewTokenizer(bytes.NewReader(raw))
	var (
		b     strings.Builder
		depth int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return domain.Extraction{}, fmt.Errorf("tokenize html: %w", err)
			}
			text := extractor.CollapseWhitespace(b.String())
			if text == "" {
				return domain.Extraction{}, errors.New("html has no visible text")
			}
			return domain.Extraction{Text: text, Confidence: 0.9}, nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
				b.WriteString(" ")
			}
		}
	}
}
