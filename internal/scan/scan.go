// Package scan collects the text files of a repository into context
// entries. Sources are a local directory or a shallow in-memory git clone.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/sync/errgroup"

	"repolens/internal/repoctx"
	"repolens/internal/safeio"
)

const (
	DefaultMaxFileSize int64 = 512 << 10
	DefaultMaxFiles          = 5000
	defaultConcurrency       = 8
)

var ErrNotDir = errors.New("scan: root is not a directory")

// Options bounds a scan.
type Options struct {
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
	// MaxFiles keeps at most this many files, in path order.
	MaxFiles int
	// SkipDirs adds directory names to the built-in skip list.
	SkipDirs    []string
	Concurrency int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

var defaultSkipDirs = map[string]struct{}{
	".git": {}, ".hg": {}, ".svn": {},
	"node_modules": {}, "vendor": {}, "target": {}, "build": {}, "dist": {},
	".next": {}, ".cache": {}, "__pycache__": {}, ".venv": {}, "coverage": {},
	".idea": {}, ".vscode": {},
}

// tree abstracts the filesystem being scanned. Paths are slash separated
// and relative to the tree root.
type tree interface {
	walk(fn func(rel string, isDir bool, size int64) error) error
	read(rel string, limit int64) ([]byte, error)
}

// LoadDir scans a directory on disk, honoring .gitignore files found in it.
func LoadDir(ctx context.Context, root string, opts Options) ([]repoctx.FileEntry, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotDir, err)
	}
	patterns, err := gitignore.ReadPatterns(osfs.New(fsys.Root()), nil)
	if err != nil {
		return nil, fmt.Errorf("read .gitignore: %w", err)
	}
	return collect(ctx, dirTree{fs: fsys}, gitignore.NewMatcher(patterns), opts)
}

func collect(ctx context.Context, t tree, ignore gitignore.Matcher, opts Options) ([]repoctx.FileEntry, error) {
	opts = opts.withDefaults()
	skip := make(map[string]struct{}, len(defaultSkipDirs)+len(opts.SkipDirs))
	for d := range defaultSkipDirs {
		skip[d] = struct{}{}
	}
	for _, d := range opts.SkipDirs {
		skip[d] = struct{}{}
	}

	var paths []string
	tooLarge := 0
	err := t.walk(func(rel string, isDir bool, size int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		segs := strings.Split(rel, "/")
		if isDir {
			if _, ok := skip[path.Base(rel)]; ok || ignore.Match(segs, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.Match(segs, false) || isBinaryPath(rel) {
			return nil
		}
		if size > opts.MaxFileSize {
			tooLarge++
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	if len(paths) > opts.MaxFiles {
		opts.Logger.LogAttrs(ctx, slog.LevelWarn, "scan file limit reached",
			slog.Int("found", len(paths)),
			slog.Int("max_files", opts.MaxFiles),
		)
		paths = paths[:opts.MaxFiles]
	}

	contents := make([]string, len(paths))
	keep := make([]bool, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := t.read(rel, opts.MaxFileSize)
			if err != nil {
				opts.Logger.LogAttrs(gctx, slog.LevelDebug, "scan skip unreadable file",
					slog.String("path", rel),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !isText(b) {
				return nil
			}
			contents[i] = string(b)
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]repoctx.FileEntry, 0, len(paths))
	for i, rel := range paths {
		if keep[i] {
			out = append(out, repoctx.FileEntry{Path: rel, Content: contents[i]})
		}
	}
	opts.Logger.LogAttrs(ctx, slog.LevelInfo, "scan complete",
		slog.Int("files", len(out)),
		slog.Int("skipped_large", tooLarge),
	)
	return out, nil
}

type dirTree struct {
	fs *safeio.SafeFS
}

func (d dirTree) walk(fn func(rel string, isDir bool, size int64) error) error {
	root := d.fs.Root()
	return filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if e.IsDir() {
			return fn(rel, true, 0)
		}
		if !e.Type().IsRegular() {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return nil
		}
		return fn(rel, false, info.Size())
	})
}

func (d dirTree) read(rel string, limit int64) ([]byte, error) {
	return d.fs.ReadFile(filepath.FromSlash(rel), limit)
}

func isText(b []byte) bool {
	return bytes.IndexByte(b, 0) < 0 && utf8.Valid(b)
}

var binaryExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".ico": {}, ".svgz": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {}, ".7z": {}, ".rar": {}, ".tar": {},
	".jar": {}, ".war": {}, ".class": {}, ".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {},
	".wasm": {}, ".bin": {}, ".dat": {}, ".db": {}, ".sqlite": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp3": {}, ".mp4": {}, ".mov": {}, ".avi": {}, ".wav": {}, ".ogg": {}, ".flac": {},
	".pyc": {},
}

func isBinaryPath(p string) bool {
	_, ok := binaryExts[strings.ToLower(path.Ext(p))]
	return ok
}
