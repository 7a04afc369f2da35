package repoctx

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var reLicenseWord = regexp.MustCompile(`(?i)\b(?:licen[cs]e[ds]?|copyright|spdx-license-identifier)\b|©`)

// Extensions where a leading '#' is not a comment marker.
var hashNotComment = map[string]struct{}{
	".md": {}, ".markdown": {}, ".mdx": {},
	".c": {}, ".h": {}, ".cc": {}, ".cpp": {}, ".hpp": {}, ".cs": {},
}

var dataFileExts = map[string]struct{}{
	".json": {}, ".jsonc": {}, ".json5": {}, ".yml": {}, ".yaml": {},
	".toml": {}, ".ini": {}, ".cfg": {}, ".conf": {}, ".env": {},
}

// Clean runs the content pipeline used before packing: license headers are
// stripped, sensitive values redacted, oversized literals truncated and
// whitespace normalized. Clean(p, Clean(p, s)) == Clean(p, s).
func Clean(p, content string) string {
	s := StripLicenseHeader(p, NormalizeWhitespace(content))
	s = Redact(s)
	s = TruncateLiterals(s)
	if !isDataFile(p) {
		s = TruncateNumericArrays(s)
	}
	return NormalizeWhitespace(s)
}

// StripLicenseHeader removes every leading comment block that mentions a
// license or copyright.
func StripLicenseHeader(p, content string) string {
	hashComments := true
	if _, ok := hashNotComment[strings.ToLower(path.Ext(p))]; ok {
		hashComments = false
	}
	s := content
	for {
		trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
		block := leadingComment(trimmed, hashComments)
		if block == "" || !reLicenseWord.MatchString(block) {
			return s
		}
		s = trimmed[len(block):]
	}
}

func leadingComment(s string, hashComments bool) string {
	switch {
	case strings.HasPrefix(s, "/*"):
		end := strings.Index(s[2:], "*/")
		if end < 0 {
			return ""
		}
		return s[:end+4]
	case strings.HasPrefix(s, "//"):
		return lineCommentRun(s, "//")
	case hashComments && strings.HasPrefix(s, "#") && !strings.HasPrefix(s, "#!"):
		return lineCommentRun(s, "#")
	}
	return ""
}

// lineCommentRun returns the consecutive lines of s that start with marker.
func lineCommentRun(s, marker string) string {
	n := 0
	for n < len(s) {
		rest := s[n:]
		if !strings.HasPrefix(strings.TrimLeft(rest, " \t"), marker) {
			break
		}
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return s
		}
		n += nl + 1
	}
	return s[:n]
}

// NormalizeWhitespace trims trailing whitespace and drops blank lines.
func NormalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.TrimRightFunc(l, unicode.IsSpace)
		if l == "" {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func isDataFile(p string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(p, "\\", "/")))
	if strings.Contains(base, "config") || strings.HasPrefix(base, ".env") {
		return true
	}
	_, ok := dataFileExts[path.Ext(base)]
	return ok
}
