package artifact

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/provider"
)

func TestLocalStore_SaveHierarchicalRoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	files := provider.Files{
		"main.go":        "package main\n",
		"models/user.go": "package models\n",
	}

	result, err := store.SaveHierarchical("proj-1", "gen-1", 1, files)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FileCount)
	assert.DirExists(t, filepath.Join(result.Path, "source"))
	assert.FileExists(t, filepath.Join(result.Path, "manifest.json"))

	dir, ok := store.LookupGenerationDir("proj-1", 1, "gen-1")
	require.True(t, ok)

	read, err := store.ReadTree(dir)
	require.NoError(t, err)
	assert.Equal(t, files, read)
}

func TestLocalStore_SaveFlatLegacy(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	files := provider.Files{"app.py": "print('hi')\n"}
	_, err = store.SaveFlatLegacy("legacy-gen", files)
	require.NoError(t, err)

	dir, ok := store.LookupGenerationDir("", 0, "legacy-gen")
	require.True(t, ok)
	read, err := store.ReadTree(dir)
	require.NoError(t, err)
	assert.Equal(t, files, read)
}

func TestManifest_ParseWriteRoundTrip(t *testing.T) {
	m := Manifest{
		GenerationID:   "gen-1",
		ProjectID:      "proj-1",
		Version:        1,
		FileCount:      2,
		TotalSizeBytes: 42,
		Files:          []string{"a.go", "b.go"},
	}
	data, err := m.Marshal()
	require.NoError(t, err)

	parsed, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m.GenerationID, parsed.GenerationID)
	assert.Equal(t, m.Files, parsed.Files)
}

func TestLocalStore_SetActiveAndCleanup(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	_, err = store.SaveHierarchical("proj-1", "gen-1", 1, provider.Files{"a.go": "x"})
	require.NoError(t, err)
	_, err = store.SaveHierarchical("proj-1", "gen-2", 2, provider.Files{"a.go": "y"})
	require.NoError(t, err)

	err = store.SetActive("proj-1", 2)
	require.NoError(t, err)

	active := filepath.Join(root, "projects", "proj-1", "active")
	assert.FileExists(t, filepath.Join(active, "manifest.json"))

	// keepLatest=1, archiveAgeDays large enough that nothing is old, so
	// nothing should move.
	err = store.Cleanup("proj-1", 1, 3650)
	require.NoError(t, err)
	_, ok := store.LookupGenerationDir("proj-1", 1, "gen-1")
	assert.True(t, ok, "recent generation should not be archived regardless of keepLatest")
}

func TestDiff_UnifiedForModifiedFile(t *testing.T) {
	from := map[string]string{"a.go": "line1\nline2\n"}
	to := map[string]string{"a.go": "line1\nline2 changed\n"}

	patch := UnifiedOrFallbackDiff(from, to, "v1", "v2")
	assert.Contains(t, patch, "v1/a.go")
	assert.Contains(t, patch, "v2/a.go")
	assert.Contains(t, patch, "line2 changed")
}

func TestDiff_FallbackSectionsForAddedAndRemoved(t *testing.T) {
	from := map[string]string{"old.go": "old content\n"}
	to := map[string]string{"new.go": "new content\n"}

	patch := UnifiedOrFallbackDiff(from, to, "v1", "v2")
	assert.Contains(t, patch, "=== added ===")
	assert.Contains(t, patch, "new.go")
	assert.Contains(t, patch, "=== removed ===")
	assert.Contains(t, patch, "old.go")
}
