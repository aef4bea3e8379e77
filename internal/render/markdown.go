// Package render turns document markdown into HTML for read views. Rendering
// happens at write time; the stored HTML is served as-is afterwards.
package render

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
	),
)

// Markdown renders content to HTML. Render failures degrade to an empty
// string rather than failing the write that triggered them.
func Markdown(content string) string {
	var sb strings.Builder
	if err := markdown.Convert([]byte(content), &sb); err != nil {
		return ""
	}
	return sb.String()
}
