package ollama

import (
	"sort"
	"strings"

	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

func buildClassificationPrompt(input ports.ClassifyInput) string {
	const maxSnippet = 4000
	snippet := input.Text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	types := make([]string, 0, len(input.Types))
	for _, t := range input.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)

	return `You are a legal intake clerk sorting evidence documents.
Pick exactly one document type from: ` + strings.Join(types, ", ") + `.
Return strict JSON object with a single key document_type (string).
If nothing fits, answer "unknown". No markdown, no extra keys.

Filename: ` + input.Filename + `
Mime type: ` + input.MimeType + `

Document:
` + snippet
}
