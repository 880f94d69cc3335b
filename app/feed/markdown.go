package feed

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown converts CMS markdown into sanitized HTML suitable for feed
// descriptions. Output passes through an allow-list policy, never raw.
type Markdown struct {
	converter goldmark.Markdown
	policy    *bluemonday.Policy
}

func NewMarkdown() *Markdown {
	return &Markdown{
		converter: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (m *Markdown) Run(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := m.converter.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}

	return m.policy.Sanitize(buf.String()), nil
}
