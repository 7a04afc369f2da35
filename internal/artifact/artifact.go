// Package artifact stores the files a run produces, such as the composed
// prompt and the model output, keyed by run id and relative path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Store interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	// GetURL returns a download URL, or "" when the backend has none.
	GetURL(ctx context.Context, runID, path string) (string, error)
	List(ctx context.Context, runID string) ([]string, error)
}

var (
	ErrNotFound       = errors.New("artifact not found")
	errRunIDRequired  = errors.New("run_id is required")
	errPathRequired   = errors.New("path is required")
	errStoreNotConfig = errors.New("artifact store is not configured")
)

// IsNotFound reports whether err means the artifact does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func checkKey(runID, path string) (string, string, error) {
	runID = strings.TrimSpace(runID)
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if runID == "" {
		return "", "", errRunIDRequired
	}
	if path == "" {
		return "", "", errPathRequired
	}
	if strings.Contains(runID, "/") {
		return "", "", fmt.Errorf("run_id %q must not contain '/'", runID)
	}
	return runID, path, nil
}

func objectKey(runID, path string) string {
	return runID + "/" + path
}
