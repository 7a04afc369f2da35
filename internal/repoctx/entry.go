// Package repoctx selects, cleans and serializes repository files into a
// bounded prompt context for a language model.
package repoctx

import "unicode/utf8"

// DefaultMaxChars is the context budget used when none is configured.
const DefaultMaxChars = 1_000_000

// FileEntry is one repository file handed to the builder.
type FileEntry struct {
	// Repo-relative path using forward slashes (e.g., "src/app.go").
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ScoredFile is a FileEntry with its priority and cleaned content.
type ScoredFile struct {
	FileEntry
	Score        int    `json:"score"`
	CleanContent string `json:"-"`
}

// SelectionResult is the outcome of packing files under a budget.
type SelectionResult struct {
	// Included lists the packed files in the order they appear in Block.
	Included []ScoredFile
	// Block is the concatenation of the wrapped file blocks.
	Block string
	// Omitted lists paths dropped for budget reasons, in ranking order.
	Omitted []string
	// UsedChars is the character count of Block.
	UsedChars int
	// MaxChars is the budget the selection was made against.
	MaxChars int
}

// String renders the block followed by the omitted-files note, if any.
func (r SelectionResult) String() string {
	return r.Block + OmittedNote(r.Omitted)
}

func charCount(s string) int { return utf8.RuneCountInString(s) }
