package analysis

import (
	"strings"

	"repolens/internal/repoctx"
)

// DefaultSystem is used when a request carries no system instruction.
const DefaultSystem = `You are a senior engineer reviewing a source repository.
Answer only from the files provided. Cite file paths when you refer to code.
If the omitted-files note lists paths, do not guess their contents.`

// ComposePrompt puts the task before the repository context. The context
// keeps its file blocks and omitted-files note exactly as built.
func ComposePrompt(task string, sel repoctx.SelectionResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(task))
	b.WriteString("\n\n<repository>\n")
	b.WriteString(sel.String())
	b.WriteString("</repository>\n")
	return b.String()
}
