package plaintext

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

var textExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "csv": true, "eml": true, "log": true, "json": true,
}

// Format accepts anything that decodes as UTF-8 text.
type Format struct{}

func New() Format {
	return Format{}
}

func (Format) Name() string {
	return "plaintext"
}

func (Format) Accepts(ext, mimeType string, head []byte) bool {
	if textExtensions[ext] || strings.HasPrefix(mimeType, "text/") {
		return true
	}
	return isProbablyText(head)
}

func (Format) Extract(raw []byte) (domain.Extraction, error) {
	if !utf8.Valid(raw) {
		return domain.Extraction{}, errors.New("content is not valid UTF-8")
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return domain.Extraction{}, errors.New("document has no text")
	}
	return domain.Extraction{Text: text, Confidence: 1.0}, nil
}

// isProbablyText treats content as text when it has no NUL bytes and at
// least 90% printable or whitespace bytes.
func isProbablyText(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	good := 0
	for _, c := range b {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(b)) > 0.9
}
