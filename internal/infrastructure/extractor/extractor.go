// Package extractor turns stored submissions into plain text for the content
// and semantic dedup tiers.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

const defaultMaxBytes = 64 << 20

// Format recognises and decodes one document format.
type Format interface {
	Name() string
	Accepts(ext, mimeType string, head []byte) bool
	Extract(raw []byte) (domain.Extraction, error)
}

// Dispatcher reads the stored object and hands it to the first format that
// accepts it.
type Dispatcher struct {
	storage  ports.ObjectStorage
	formats  []Format
	maxBytes int64
}

func NewDispatcher(storage ports.ObjectStorage, maxBytes int64, formats ...Format) *Dispatcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Dispatcher{storage: storage, formats: formats, maxBytes: maxBytes}
}

func (d *Dispatcher) Extract(ctx context.Context, entry *domain.JournalEntry) (domain.Extraction, error) {
	reader, err := d.storage.Open(ctx, entry.StorageKey)
	if err != nil {
		if domain.IsKind(err, domain.ErrEntryNotFound) {
			return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "open source document", err)
		}
		return domain.Extraction{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, d.maxBytes+1))
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrStorageUnavailable, "read source document", err)
	}
	if int64(len(raw)) > d.maxBytes {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "read source document",
			fmt.Errorf("%s exceeds %d bytes", entry.OriginalFilename, d.maxBytes))
	}
	if len(raw) == 0 {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "read source document", fmt.Errorf("%s is empty", entry.OriginalFilename))
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.OriginalFilename)), ".")
	mimeType := strings.ToLower(strings.TrimSpace(entry.MimeType))
	if IsImage(mimeType, raw) {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "extract text",
			fmt.Errorf("%s is an image; no text layer", entry.OriginalFilename))
	}

	head := raw[:min(len(raw), 4096)]
	for _, format := range d.formats {
		if !format.Accepts(ext, mimeType, head) {
			continue
		}
		extraction, err := format.Extract(raw)
		if err != nil {
			return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, format.Name()+" extract", err)
		}
		extraction.Method = format.Name()
		return extraction, nil
	}
	return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "extract text",
		fmt.Errorf("unsupported file type: name=%s mime=%s", entry.OriginalFilename, entry.MimeType))
}

var imageMagic = [][]byte{
	{0xFF, 0xD8, 0xFF},     // jpeg
	{0x89, 'P', 'N', 'G'},  // png
	[]byte("GIF8"),         // gif
	{'I', 'I', 0x2A, 0x00}, // tiff little endian
	{'M', 'M', 0x00, 0x2A}, // tiff big endian
}

func IsImage(mimeType string, raw []byte) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	for _, magic := range imageMagic {
		if bytes.HasPrefix(raw, magic) {
			return true
		}
	}
	return false
}

// CollapseWhitespace joins fields with single spaces.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// LetterRatio is the share of letters and digits among non-space runes. Text
// layers full of glyph garbage score low.
func LetterRatio(s string) float64 {
	var letters, total int
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		total++
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') || r > 0x7F {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
