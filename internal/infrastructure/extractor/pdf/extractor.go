package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/infrastructure/extractor"
)

// minCharsPerPage separates real text layers from scanned pages that carry
// only a few stray glyphs.
const minCharsPerPage = 200

type Format struct{}

func New() Format {
	return Format{}
}

func (Format) Name() string {
	return "pdf"
}

func (Format) Accepts(ext, mimeType string, head []byte) bool {
	return bytes.HasPrefix(head, []byte("%PDF-")) || ext == "pdf" || mimeType == "application/pdf"
}

func (Format) Extract(raw []byte) (domain.Extraction, error) {
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return domain.Extraction{}, errors.New("file claims pdf but has no %PDF header")
	}
	r, err := pdflib.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("pdf read: %w", err)
	}
	text := extractor.CollapseWhitespace(string(b))
	if text == "" {
		return domain.Extraction{}, errors.New("pdf has no text layer")
	}
	return domain.Extraction{Text: text, Confidence: confidence(text, r.NumPage())}, nil
}

func confidence(text string, pages int) float64 {
	score := extractor.LetterRatio(text)
	if pages > 0 && len(text)/pages < minCharsPerPage {
		score *= float64(len(text)/pages) / minCharsPerPage
	}
	return score
}
