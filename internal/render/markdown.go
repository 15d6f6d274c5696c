package render

import (
	"context"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown is the default sanitization collaborator: assistant text is
// treated as markdown and rendered to display-safe HTML. Raw HTML in
// the source is escaped, never passed through.
type Markdown struct{}

func NewMarkdown() *Markdown {
	return &Markdown{}
}

// Sanitize renders markdown to HTML suitable for direct display.
func (m *Markdown) Sanitize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.SkipHTML | html.NoreferrerLinks | html.HrefTargetBlank,
	})

	out := markdown.ToHTML([]byte(text), p, renderer)
	return strings.TrimSpace(string(out)), nil
}
