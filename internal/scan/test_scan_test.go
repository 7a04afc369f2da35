package scan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repolens/internal/repoctx"
	"repolens/internal/tester"
)

func paths(entries []repoctx.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	tester.WriteTree(t, root, map[string]string{
		".gitignore":               "*.log\ngenerated/\n",
		"main.go":                  "package main\n",
		"internal/app/app.go":      "package app\n",
		"debug.log":                "noise",
		"generated/api.pb.go":      "package api\n",
		"node_modules/x/index.js":  "module.exports = 1\n",
		"assets/logo.png":          "not really a png",
		"docs/README.md":           "# Docs\n",
		"web/.gitignore":           "secret.txt\n",
		"web/secret.txt":           "hidden",
		"web/index.ts":             "export {}\n",
		"testdata/blob.txt":        "a\x00b",
		"testdata/latin1.txt":      "caf\xe9",
		"testdata/deep/nested.txt": "ok",
	})

	got, err := LoadDir(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		".gitignore",
		"docs/README.md",
		"internal/app/app.go",
		"main.go",
		"testdata/deep/nested.txt",
		"web/.gitignore",
		"web/index.ts",
	}, paths(got))
	assert.Equal(t, "package main\n", got[3].Content)
}

func TestLoadDir_Limits(t *testing.T) {
	root := t.TempDir()
	tester.WriteTree(t, root, map[string]string{
		"a.go":   "package a\n",
		"b.go":   "package b\n",
		"c.go":   "package c\n",
		"big.go": strings.Repeat("x", 64),
	})
	logger, rec := tester.NewLogger()

	got, err := LoadDir(context.Background(), root, Options{MaxFileSize: 32, MaxFiles: 2, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths(got))

	warns := rec.AtLevel(slog.LevelWarn)
	require.Len(t, warns, 1)
	found, _ := tester.Attr(warns[0], "found")
	assert.Equal(t, "3", found)
}

func TestLoadDir_SkipDirsOption(t *testing.T) {
	root := t.TempDir()
	tester.WriteTree(t, root, map[string]string{
		"src/a.go":        "package a\n",
		"fixtures/b.json": "{}",
	})
	got, err := LoadDir(context.Background(), root, Options{SkipDirs: []string{"fixtures"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go"}, paths(got))
}

func TestLoadDir_BadRoot(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err = LoadDir(context.Background(), f, Options{})
	assert.ErrorIs(t, err, ErrNotDir)
}

func TestLoadDir_Canceled(t *testing.T) {
	root := t.TempDir()
	tester.WriteTree(t, root, map[string]string{"a.go": "package a\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadDir(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBilly(t *testing.T) {
	fs := memfs.New()
	files := map[string]string{
		".gitignore":        "tmp/\n",
		"go.mod":            "module example.com/x\n",
		"cmd/x/main.go":     "package main\n",
		"tmp/scratch.go":    "package tmp\n",
		"vendor/dep/dep.go": "package dep\n",
		"img/logo.gif":      "GIF89a",
	}
	for name, body := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(body), 0o644))
	}

	got, err := loadBilly(context.Background(), fs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "cmd/x/main.go", "go.mod"}, paths(got))
	assert.Equal(t, "module example.com/x\n", got[2].Content)
}

func TestLoadGit_Validation(t *testing.T) {
	_, err := LoadGit(context.Background(), GitSource{URL: "  "}, Options{})
	assert.ErrorIs(t, err, ErrEmptyURL)
	_, err = LoadGit(context.Background(), GitSource{URL: "file:///srv/repo"}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestCheckRemoteURL(t *testing.T) {
	for _, ok := range []string{
		"https://github.com/acme/demo.git",
		" HTTPS://gitlab.example/acme/demo ",
		"ssh://git@github.com/acme/demo.git",
	} {
		assert.NoError(t, CheckRemoteURL(ok), ok)
	}
	for _, bad := range []string{
		"/tmp/x",
		"./repo",
		"file:///srv/repo",
		"http://github.com/acme/demo",
		"git://github.com/acme/demo",
		"https:///acme/demo",
		"ssh:relative/path",
	} {
		assert.ErrorIs(t, CheckRemoteURL(bad), ErrUnsupportedURL, bad)
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://redacted@github.com/o/r.git", redactURL("https://user:pw@github.com/o/r.git"))
	assert.Equal(t, "https://github.com/o/r.git", redactURL("https://github.com/o/r.git"))
}
