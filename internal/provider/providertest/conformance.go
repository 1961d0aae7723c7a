// Package providertest holds the shared contract tests for deployment backends.
package providertest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sitepush/internal/provider"
)

// Published returns the destination content of rel and whether it exists.
type Published func(t *testing.T, rel string) ([]byte, bool)

// Conformance runs the backend lifecycle against b:
// deploy a subset -> only that subset published -> empty deploy is a no-op ->
// redeploy an edited file -> prune (when supported).
func Conformance(t *testing.T, b provider.Backend, published Published) {
	t.Helper()
	ctx := context.Background()
	out := t.TempDir()

	files := map[string]string{
		"index.html":           "<h1>home</h1>",
		"posts/2024/one.html":  "<p>one</p>",
		"data/posts.json":      `{"posts":[]}`,
		"untouched/never.html": "never listed",
	}
	for rel, content := range files {
		WriteFile(t, out, rel, content)
	}

	// 1. Deploy a subset
	require.NoError(t, b.Deploy(ctx, out, []string{"data/posts.json", "index.html", "posts/2024/one.html"}))
	for _, rel := range []string{"index.html", "posts/2024/one.html", "data/posts.json"} {
		got, ok := published(t, rel)
		require.True(t, ok, "%s should be published", rel)
		assert.Equal(t, files[rel], string(got))
	}

	// 2. Unlisted files are not touched
	_, ok := published(t, "untouched/never.html")
	assert.False(t, ok, "unlisted file must not be published")

	// 3. Empty deploy
	require.NoError(t, b.Deploy(ctx, out, nil))

	// 4. Redeploy an edited file
	WriteFile(t, out, "index.html", "<h1>home v2</h1>")
	require.NoError(t, b.Deploy(ctx, out, []string{"index.html"}))
	got, ok := published(t, "index.html")
	require.True(t, ok)
	assert.Equal(t, "<h1>home v2</h1>", string(got))

	// 5. Prune
	pruner, ok := b.(provider.Pruner)
	if !ok {
		return
	}
	require.NoError(t, os.Remove(filepath.Join(out, "posts", "2024", "one.html")))
	require.NoError(t, pruner.Prune(ctx, out, []string{"posts/2024/one.html"}))
	_, ok = published(t, "posts/2024/one.html")
	assert.False(t, ok, "pruned file must be gone")
	_, ok = published(t, "index.html")
	assert.True(t, ok, "prune must not touch other files")
}

// WriteFile creates rel below root with content.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
