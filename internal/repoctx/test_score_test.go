package repoctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileScore(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"package.json", 100},
		{"PACKAGE.JSON", 100},
		{"services/billing/go.mod", 100},
		{"Dockerfile", 100},
		{"deploy/docker-compose.yml", 100},
		{"prisma/schema.prisma", 100},
		{"deploy/values.yaml", 85},
		{"src/webpack.config.js", 85},
		{"src/api/router.ts", 75},
		{"main.go", 85},
		{"README.md", 60},
		{"src/deep/a/b/c/test/foo.spec.ts", 20},
		{"src/components/Button.css", 20},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, FileScore(tc.path))
		})
	}
}

func TestFileScore_TestFileRanksBelowRouter(t *testing.T) {
	assert.Less(t, FileScore("src/deep/a/b/c/test/foo.spec.ts"), FileScore("src/api/router.ts"))
}

func TestFileScore_NormalizesSeparators(t *testing.T) {
	assert.Equal(t, FileScore("src/api/router.ts"), FileScore(`src\api\router.ts`))
	assert.Equal(t, FileScore("src/api/router.ts"), FileScore("/src/api/router.ts"))
}

func TestFileScore_StaysInRange(t *testing.T) {
	paths := []string{
		"a", "test/ui/view/style.css", "app/api/auth/service/main.ts",
		"x/y/z/w/mock/fixture/e2e/icon.svg", "go.mod", "config.yaml",
	}
	for _, p := range paths {
		s := FileScore(p)
		assert.GreaterOrEqual(t, s, 0, p)
		assert.LessOrEqual(t, s, 100, p)
	}
}
