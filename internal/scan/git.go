package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"repolens/internal/repoctx"
)

var (
	ErrEmptyURL       = errors.New("scan: empty repository url")
	ErrUnsupportedURL = errors.New("scan: repository url must be https or ssh with a host")
)

// CheckRemoteURL accepts only https:// and ssh:// URLs that name a host.
// Local paths and file:// URLs are rejected.
func CheckRemoteURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "ssh":
	default:
		return fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	return nil
}

// GitSource identifies a remote repository to clone.
type GitSource struct {
	URL string
	// Branch defaults to the remote HEAD.
	Branch string
	// Token is sent as HTTP basic auth for private repositories.
	Token string
}

// LoadGit shallow-clones src into memory and scans its worktree.
func LoadGit(ctx context.Context, src GitSource, opts Options) ([]repoctx.FileEntry, error) {
	if err := CheckRemoteURL(src.URL); err != nil {
		return nil, err
	}
	co := &git.CloneOptions{
		URL:          src.URL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if src.Branch != "" {
		co.ReferenceName = plumbing.NewBranchReferenceName(src.Branch)
	}
	if src.Token != "" {
		co.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: src.Token}
	}

	wt := memfs.New()
	if _, err := git.CloneContext(ctx, memory.NewStorage(), wt, co); err != nil {
		return nil, fmt.Errorf("clone %s: %w", redactURL(src.URL), err)
	}
	return loadBilly(ctx, wt, opts)
}

func loadBilly(ctx context.Context, fsys billy.Filesystem, opts Options) ([]repoctx.FileEntry, error) {
	patterns, err := gitignore.ReadPatterns(fsys, nil)
	if err != nil {
		return nil, fmt.Errorf("read .gitignore: %w", err)
	}
	return collect(ctx, billyTree{fs: fsys}, gitignore.NewMatcher(patterns), opts)
}

type billyTree struct {
	fs billy.Filesystem
}

func (b billyTree) walk(fn func(rel string, isDir bool, size int64) error) error {
	return b.walkDir("", fn)
}

func (b billyTree) walkDir(dir string, fn func(rel string, isDir bool, size int64) error) error {
	entries, err := b.fs.ReadDir(dir)
	if err != nil {
		if dir == "" {
			return err
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		rel := path.Join(dir, e.Name())
		if e.IsDir() {
			err := fn(rel, true, 0)
			if errors.Is(err, filepath.SkipDir) {
				continue
			}
			if err != nil {
				return err
			}
			if err := b.walkDir(rel, fn); err != nil {
				return err
			}
			continue
		}
		if !e.Mode().IsRegular() {
			continue
		}
		if err := fn(rel, false, e.Size()); err != nil && !errors.Is(err, filepath.SkipDir) {
			return err
		}
	}
	return nil
}

func (b billyTree) read(rel string, limit int64) ([]byte, error) {
	info, err := b.fs.Stat(rel)
	if err != nil {
		return nil, err
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%s (%d bytes): file exceeds size limit", rel, info.Size())
	}
	f, err := b.fs.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// redactURL drops credentials embedded in a clone URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("redacted")
	return u.String()
}
