// Package markdown renders the accumulated answer text to HTML before
// citation resolution. The remote service generates markdown; citation
// markers survive rendering as plain text.
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var renderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// Render converts markdown to HTML and trims surrounding whitespace.
// On renderer failure the input is returned unchanged so a turn never
// fails over presentation.
func Render(src string) string {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(src), &buf); err != nil {
		return strings.TrimSpace(src)
	}
	return strings.TrimSpace(buf.String())
}
