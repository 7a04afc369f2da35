package llmclient

import (
	"context"
	"fmt"
	"strings"
)

type ModelLevel string

const (
	ModelLevelLow    ModelLevel = "low"
	ModelLevelMiddle ModelLevel = "middle"
	ModelLevelHigh   ModelLevel = "high"
)

// ParseModelLevel accepts a level name case-insensitively.
func ParseModelLevel(s string) (ModelLevel, error) {
	switch l := ModelLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case ModelLevelLow, ModelLevelMiddle, ModelLevelHigh:
		return l, nil
	}
	return "", fmt.Errorf("unknown model level %q", s)
}

type ClientFactory func(ctx context.Context) (LLMClient, error)

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type ModelRegistration struct {
	Provider  string
	Model     string
	Level     ModelLevel
	RateLimit *RateLimitConfig
	Factory   ClientFactory
}

// ID returns the "provider:model" identifier used in candidate lists.
func (m ModelRegistration) ID() string {
	return ModelID(m.Provider, m.Model)
}

// ModelID joins a provider and a model name into a candidate identifier.
func ModelID(provider, model string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(model)
}

type ModelRegistrar interface {
	RegisterModel(spec ModelRegistration) error
}
