package repoctx

import (
	"path"
	"strings"
)

// criticalFiles are matched case-insensitively against the base name.
var criticalFiles = map[string]struct{}{
	"package.json":        {},
	"go.mod":              {},
	"cargo.toml":          {},
	"pyproject.toml":      {},
	"requirements.txt":    {},
	"pom.xml":             {},
	"build.gradle":        {},
	"build.gradle.kts":    {},
	"gemfile":             {},
	"composer.json":       {},
	"makefile":            {},
	"dockerfile":          {},
	"docker-compose.yml":  {},
	"docker-compose.yaml": {},
	"tsconfig.json":       {},
	".env.example":        {},
	".env.sample":         {},
	"schema.prisma":       {},
	"schema.graphql":      {},
	"schema.sql":          {},
	"openapi.yaml":        {},
	"openapi.yml":         {},
	"openapi.json":        {},
	"swagger.yaml":        {},
	"swagger.json":        {},
}

var highPriorityTokens = []string{
	"type", "interface", "api", "router", "controller", "model", "entity",
	"config", "auth", "service", "main", "index", "app",
}

var lowPriorityTokens = []string{
	"test", "spec", "mock", "fixture", "e2e", "ui", "view", "style", "css",
	"icon", "assets", "public",
}

const (
	scoreCritical = 100
	scoreConfig   = 85
	scoreBase     = 50
	bonusHigh     = 25
	penaltyLow    = 30
	bonusShallow  = 10
	shallowDepth  = 3
	scoreMin      = 0
	scoreMax      = 100
)

// FileScore returns the content-independent priority of a repository path.
// Higher scores are packed first.
func FileScore(p string) int {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	lower := strings.ToLower(p)
	base := path.Base(lower)

	if _, ok := criticalFiles[base]; ok {
		return scoreCritical
	}
	ext := path.Ext(base)
	if strings.Contains(base, "config") || ext == ".yml" || ext == ".yaml" {
		return scoreConfig
	}

	score := scoreBase
	if containsAny(lower, highPriorityTokens) {
		score += bonusHigh
	}
	if containsAny(lower, lowPriorityTokens) {
		score -= penaltyLow
	}
	if len(strings.Split(p, "/")) < shallowDepth {
		score += bonusShallow
	}
	return clamp(score, scoreMin, scoreMax)
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
