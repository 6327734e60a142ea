package xlsx

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Format flattens every sheet into "sheet: cell cell cell" lines.
type Format struct{}

func New() Format {
	return Format{}
}

func (Format) Name() string {
	return "xlsx"
}

func (Format) Accepts(ext, mimeType string, head []byte) bool {
	if ext == "xlsx" || ext == "xlsm" || mimeType == mimeXLSX {
		return true
	}
	// Other OpenXML containers are zips too; only claim zips by extension.
	return false
}

func (Format) Extract(raw []byte) (domain.Extraction, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = book.Close()
	}()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) == 0 {
				continue
			}
			b.WriteString(sheet)
			b.WriteString(": ")
			b.WriteString(strings.Join(cells, " "))
			b.WriteString("\n")
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return domain.Extraction{}, fmt.Errorf("workbook has no cell values")
	}
	return domain.Extraction{Text: text, Confidence: 0.95}, nil
}
