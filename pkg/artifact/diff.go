package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/genforge-dev/genforge/internal/fileutil"
	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// shortFileBytes is the size up to which an added, removed or modified
// file's full content is embedded in the fallback diff sections; a larger
// file is listed with its byte count only (§4.4, §6).
const shortFileBytes = 8192

// Diff renders the difference between two versions of a project with
// UnifiedOrFallbackDiff. It returns an error when either version's
// directory is missing or its source tree cannot be read.
// Writes the patch to <root>/projects/<project_id>/generations/v{to}__*/diff_from_v{from}.patch
// and returns its path.
func (s *LocalStore) Diff(projectID string, fromVersion, toVersion int) (string, error) {
	fromDir, ok := s.findVersionDir(projectID, fromVersion)
	if !ok {
		return "", orcherr.New(orcherr.NotFound, "artifact.LocalStore", fmt.Sprintf("version %d not found", fromVersion))
	}
	toDirFull, ok := s.findVersionDir(projectID, toVersion)
	if !ok {
		return "", orcherr.New(orcherr.NotFound, "artifact.LocalStore", fmt.Sprintf("version %d not found", toVersion))
	}

	fromFiles, err := s.ReadTree(fromDir)
	if err != nil {
		return "", err
	}
	toFiles, err := s.ReadTree(toDirFull)
	if err != nil {
		return "", err
	}

	patch := UnifiedOrFallbackDiff(fromFiles, toFiles, fmt.Sprintf("v%d", fromVersion), fmt.Sprintf("v%d", toVersion))

	generationDir := filepath.Dir(toDirFull) // strip trailing "source"
	patchPath := filepath.Join(generationDir, fmt.Sprintf("diff_from_v%d.patch", fromVersion))
	if err := fileutil.WriteFile(patchPath, []byte(patch)); err != nil {
		return "", orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "write diff patch", err)
	}
	return patchPath, nil
}

func (s *LocalStore) findVersionDir(projectID string, version int) (string, bool) {
	entries, err := os.ReadDir(s.generationsDir(projectID))
	if err != nil {
		return "", false
	}
	prefix := fmt.Sprintf("v%d__", version)
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			dir := filepath.Join(s.generationsDir(projectID), e.Name(), "source")
			if fileutil.IsDir(dir) {
				return dir, true
			}
		}
	}
	return "", false
}

// UnifiedOrFallbackDiff renders a diff between two file sets. Each modified
// file gets a per-file unified diff via go-difflib (the "system diff" path
// referenced in §4.4/§8); a pair go-difflib renders as empty or fails on is
// skipped. When at least one unified hunk was written and nothing was added
// or removed, the result is just those hunks. Otherwise === added === and
// === removed === sections follow, plus a === modified === section listing
// the modified files when no unified hunk was written at all.
func UnifiedOrFallbackDiff(from, to map[string]string, fromLabel, toLabel string) string {
	added, removed, modified := classifyChanges(from, to)

	var b strings.Builder
	wroteUnified := false
	for _, path := range modified {
		ud := difflib.UnifiedDiff{
			A:        difflib.SplitLines(from[path]),
			B:        difflib.SplitLines(to[path]),
			FromFile: fromLabel + "/" + path,
			ToFile:   toLabel + "/" + path,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(ud)
		if err != nil || text == "" {
			continue
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteString("\n")
		}
		wroteUnified = true
	}

	if wroteUnified && len(added) == 0 && len(removed) == 0 {
		return b.String()
	}

	// Fallback/supplementary sections for adds and removes, and for any
	// modification go-difflib couldn't render.
	var fb strings.Builder
	fb.WriteString(b.String())

	fb.WriteString("=== added ===\n")
	for _, path := range added {
		fmt.Fprintf(&fb, "path: %s\n", path)
		writeShortContent(&fb, to[path])
	}
	fb.WriteString("=== removed ===\n")
	for _, path := range removed {
		fmt.Fprintf(&fb, "path: %s\n", path)
		writeShortContent(&fb, from[path])
	}
	if !wroteUnified {
		fb.WriteString("=== modified ===\n")
		for _, path := range modified {
			fmt.Fprintf(&fb, "path: %s\n", path)
			writeShortContent(&fb, to[path])
		}
	}
	return fb.String()
}

func writeShortContent(b *strings.Builder, content string) {
	if len(content) <= shortFileBytes {
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
	} else {
		fmt.Fprintf(b, "(%d bytes, omitted)\n", len(content))
	}
}

func classifyChanges(from, to map[string]string) (added, removed, modified []string) {
	for path := range to {
		if _, ok := from[path]; !ok {
			added = append(added, path)
		} else if from[path] != to[path] {
			modified = append(modified, path)
		}
	}
	for path := range from {
		if _, ok := to[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return
}
