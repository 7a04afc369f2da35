package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	llmclient "repolens/internal/llm/client"
)

// ModelChains maps a model level to its ordered candidate identifiers.
type ModelChains map[llmclient.ModelLevel][]string

type modelsFile struct {
	Chains map[string][]string `yaml:"chains"`
}

// LoadModelChains reads a YAML file of the form
//
//	chains:
//	  middle: [gemini:gemini-2.5-flash, groq:openai/gpt-oss-20b]
func LoadModelChains(path string) (ModelChains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var mf modelsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	out := make(ModelChains, len(mf.Chains))
	for name, ids := range mf.Chains {
		level, err := llmclient.ParseModelLevel(name)
		if err != nil {
			return nil, fmt.Errorf("models file %s: %w", path, err)
		}
		chain := make([]string, 0, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if !strings.Contains(id, ":") {
				return nil, fmt.Errorf("models file %s: candidate %q is not provider:model", path, id)
			}
			chain = append(chain, id)
		}
		out[level] = chain
	}
	return out, nil
}
