package analysis

import (
	"errors"
	"fmt"
	"strings"

	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
)

// Summary is the structured form of an analysis.
type Summary struct {
	Overview   string      `json:"overview"`
	Languages  []string    `json:"languages"`
	Components []Component `json:"components"`
	Risks      []string    `json:"risks"`
}

type Component struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

func (s Summary) Validate() error {
	if strings.TrimSpace(s.Overview) == "" {
		return errors.New("overview is empty")
	}
	for _, c := range s.Components {
		if strings.TrimSpace(c.Name) == "" {
			return errors.New("component without name")
		}
	}
	return nil
}

// Markdown renders the summary for terminal display.
func (s Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("# Overview\n\n")
	b.WriteString(strings.TrimSpace(s.Overview))
	b.WriteString("\n")
	if len(s.Languages) > 0 {
		fmt.Fprintf(&b, "\n**Languages:** %s\n", strings.Join(s.Languages, ", "))
	}
	if len(s.Components) > 0 {
		b.WriteString("\n## Components\n\n| Name | Path | Purpose |\n|---|---|---|\n")
		for _, c := range s.Components {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(c.Name), cell(c.Path), cell(c.Purpose))
		}
	}
	if len(s.Risks) > 0 {
		b.WriteString("\n## Risks\n\n")
		for _, r := range s.Risks {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r))
		}
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

var SummarySchema = llm.MustJSONSchema[Summary](&llmclient.Schema{
	Type:        "object",
	Description: "Architecture summary of a repository.",
	Required:    []string{"overview", "components"},
	Properties: map[string]*llmclient.Schema{
		"overview":  {Type: "string", Description: "Two to five sentences on what the repository does."},
		"languages": {Type: "array", Items: &llmclient.Schema{Type: "string"}},
		"components": {Type: "array", Items: &llmclient.Schema{
			Type:     "object",
			Required: []string{"name", "purpose"},
			Properties: map[string]*llmclient.Schema{
				"name":    {Type: "string"},
				"path":    {Type: "string"},
				"purpose": {Type: "string"},
			},
		}},
		"risks": {Type: "array", Items: &llmclient.Schema{Type: "string"}},
	},
})
