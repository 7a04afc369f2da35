package repoctx

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Builder packs repository files into a prompt context under a character budget.
type Builder struct {
	maxChars int
	logger   *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for selection summaries.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder returns a Builder with the given budget. A negative budget
// selects DefaultMaxChars; zero is a valid budget that omits every file.
func NewBuilder(maxChars int, opts ...Option) *Builder {
	if maxChars < 0 {
		maxChars = DefaultMaxChars
	}
	b := &Builder{
		maxChars: maxChars,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxChars returns the configured budget.
func (b *Builder) MaxChars() int { return b.maxChars }

// Build cleans, ranks and selects files. It never fails; in the worst case
// every file is omitted.
func (b *Builder) Build(files []FileEntry) SelectionResult {
	res := Select(Rank(files), b.maxChars)
	b.logger.Debug("context built",
		slog.Int("files", len(files)),
		slog.Int("included", len(res.Included)),
		slog.Int("omitted", len(res.Omitted)),
		slog.Int("used_chars", res.UsedChars),
		slog.Int("max_chars", res.MaxChars),
	)
	return res
}

// Rank scores and cleans files, then orders them by score descending.
// Equal scores prefer the shorter cleaned content; the path breaks any
// remaining tie. Entries with an empty path are dropped.
func Rank(files []FileEntry) []ScoredFile {
	scored := make([]ScoredFile, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			continue
		}
		scored = append(scored, ScoredFile{
			FileEntry:    f,
			Score:        FileScore(f.Path),
			CleanContent: Clean(f.Path, f.Content),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := charCount(a.CleanContent), charCount(b.CleanContent); la != lb {
			return la < lb
		}
		return a.Path < b.Path
	})
	return scored
}

// Select walks ranked files and includes each whole wrapped block that still
// fits in maxChars. Files that do not fit are listed in Omitted.
func Select(ranked []ScoredFile, maxChars int) SelectionResult {
	res := SelectionResult{MaxChars: maxChars}
	var buf strings.Builder
	for _, f := range ranked {
		block := WrapFile(f.Path, f.CleanContent)
		n := charCount(block)
		if res.UsedChars+n > maxChars {
			res.Omitted = append(res.Omitted, f.Path)
			continue
		}
		buf.WriteString(block)
		res.UsedChars += n
		res.Included = append(res.Included, f)
	}
	res.Block = buf.String()
	return res
}

// WrapFile renders one file as a tagged block.
func WrapFile(path, content string) string {
	return fmt.Sprintf("<file path=\"%s\">\n%s\n</file>\n", escapeAttr(path), content)
}

// OmittedNote renders the trailing manifest of omitted paths, or "" when
// nothing was omitted.
func OmittedNote(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	escaped := make([]string, len(paths))
	for i, p := range paths {
		escaped[i] = commentEscaper.Replace(p)
	}
	return fmt.Sprintf("<!-- omitted %d file(s) due to context budget: %s -->\n",
		len(paths), strings.Join(escaped, ", "))
}

// commentEscaper keeps a path from closing the surrounding comment.
var commentEscaper = strings.NewReplacer("&", "&amp;", "--", "-&#45;", ">", "&gt;")

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	return strings.ReplaceAll(s, `"`, "&quot;")
}
