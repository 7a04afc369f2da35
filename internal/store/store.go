// Package store persists analysis records.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("analysis not found")
	ErrInvalid  = errors.New("invalid analysis record")
)

// Analysis is the persisted result of one pipeline run.
type Analysis struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	Output    string    `json:"output"`
	Included  []string  `json:"included"`
	Omitted   []string  `json:"omitted"`
	UsedChars int       `json:"used_chars"`
	MaxChars  int       `json:"max_chars"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, a Analysis) error
	Get(ctx context.Context, id string) (Analysis, error)
	// ListByRepo returns the newest analyses for a repository first. A limit
	// <= 0 returns all of them.
	ListByRepo(ctx context.Context, repoID string, limit int) ([]Analysis, error)
	Close() error
}

func normalize(a Analysis) (Analysis, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.RepoID = strings.TrimSpace(a.RepoID)
	if a.ID == "" {
		return a, errors.Join(ErrInvalid, errors.New("id is required"))
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Included == nil {
		a.Included = []string{}
	}
	if a.Omitted == nil {
		a.Omitted = []string{}
	}
	return a, nil
}

func clone(a Analysis) Analysis {
	a.Included = append([]string{}, a.Included...)
	a.Omitted = append([]string{}, a.Omitted...)
	return a
}
