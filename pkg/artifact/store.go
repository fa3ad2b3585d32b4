// Package artifact implements the versioned, hierarchical on-disk artifact
// store (C4): per-project, per-version layout with manifests, diffs, an
// active pointer, and bounded archival — generalized from the teacher's
// pkg/orchestra.WorkdirManager (one flat timestamped directory per task)
// into a project/version-keyed tree with atomic writes and lookups.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/genforge-dev/genforge/internal/fileutil"
	"github.com/genforge-dev/genforge/internal/logger"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// SaveResult is the outcome of a SaveHierarchical/SaveFlatLegacy call.
type SaveResult struct {
	Path           string
	FileCount      int
	TotalSizeBytes int64
}

// Store is the ArtifactStore contract (§4.4). LocalStore is the concrete
// on-disk implementation; the interface is the seam the design notes
// reserve for a future remote-aware implementation (Open Question #3).
type Store interface {
	SaveHierarchical(projectID, generationID string, version int, files provider.Files) (SaveResult, error)
	SaveFlatLegacy(generationID string, files provider.Files) (SaveResult, error)
	WriteIncremental(projectID, generationID string, version int, files provider.Files) error
	LookupGenerationDir(projectID string, version int, generationID string) (string, bool)
	Diff(projectID string, fromVersion, toVersion int) (string, error)
	SetActive(projectID string, version int) error
	Cleanup(projectID string, keepLatest int, archiveAgeDays int) error
	ReadTree(dir string) (provider.Files, error)
}

// LocalStore is the local-disk Store implementation.
type LocalStore struct {
	root string
}

// NewLocalStore builds a LocalStore rooted at root (creating it if absent).
func NewLocalStore(root string) (*LocalStore, error) {
	if err := fileutil.EnsureDir(root); err != nil {
		return nil, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create storage root", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) projectDir(projectID string) string {
	return filepath.Join(s.root, "projects", projectID)
}

func (s *LocalStore) generationsDir(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "generations")
}

func generationDirName(version int, generationID string) string {
	return fmt.Sprintf("v%d__%s", version, generationID)
}

// SaveHierarchical writes files under
// <root>/projects/<project_id>/generations/v{version}__{generation_id}/.
// The write is atomic on a per-directory basis: content is assembled in a
// temp sibling directory and renamed into place, so a generation directory
// is either fully present or entirely absent (§4.4 invariant).
func (s *LocalStore) SaveHierarchical(projectID, generationID string, version int, files provider.Files) (SaveResult, error) {
	finalDir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID))
	tempDir := finalDir + ".tmp-" + fmt.Sprintf("%d", time.Now().UnixNano())

	if err := fileutil.EnsureDir(tempDir); err != nil {
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create temp dir", err)
	}

	sourceDir := filepath.Join(tempDir, "source")
	artifactsDir := filepath.Join(tempDir, "artifacts")
	if err := fileutil.EnsureDir(sourceDir); err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create source dir", err)
	}
	if err := fileutil.EnsureDir(artifactsDir); err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create artifacts dir", err)
	}

	var totalSize int64
	paths := make([]string, 0, len(files))
	for path, content := range files {
		full := filepath.Join(sourceDir, filepath.FromSlash(path))
		if err := fileutil.WriteFile(full, []byte(content)); err != nil {
			_ = os.RemoveAll(tempDir)
			return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "write file "+path, err)
		}
		totalSize += int64(len(content))
		paths = append(paths, path)
	}
	sort.Strings(paths)

	manifest := Manifest{
		GenerationID:   generationID,
		ProjectID:      projectID,
		Version:        version,
		CreatedAt:      time.Now(),
		FileCount:      len(paths),
		TotalSizeBytes: totalSize,
		Files:          paths,
	}
	data, err := manifest.Marshal()
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.Internal, "artifact.LocalStore", "marshal manifest", err)
	}
	if err := fileutil.WriteFile(filepath.Join(tempDir, "manifest.json"), data); err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "write manifest", err)
	}

	if err := fileutil.EnsureDir(filepath.Dir(finalDir)); err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create generations dir", err)
	}
	if err := os.Rename(tempDir, finalDir); err != nil {
		_ = os.RemoveAll(tempDir)
		return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "rename into place", err)
	}

	return SaveResult{Path: finalDir, FileCount: len(paths), TotalSizeBytes: totalSize}, nil
}

// WriteIncremental writes files directly into a generation's in-progress
// source/ directory, without the temp-sibling-then-rename atomicity
// SaveHierarchical provides. PhasedCodeGenerator calls this after each
// phase so a later failure still leaves the partial project on disk for
// debugging (§4.3). The directory is not finalized with a manifest until
// SaveHierarchical (or a subsequent full write) completes.
func (s *LocalStore) WriteIncremental(projectID, generationID string, version int, files provider.Files) error {
	sourceDir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID), "source")
	for path, content := range files {
		full := filepath.Join(sourceDir, filepath.FromSlash(path))
		if err := fileutil.WriteFile(full, []byte(content)); err != nil {
			return orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "write incremental file "+path, err)
		}
	}
	return nil
}

// SaveFlatLegacy writes to the backward-compatible flat layout
// <root>/projects/<generation_id>/ for callers that don't supply a project
// and version.
func (s *LocalStore) SaveFlatLegacy(generationID string, files provider.Files) (SaveResult, error) {
	dir := filepath.Join(s.root, "projects", generationID)
	var totalSize int64
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := fileutil.WriteFile(full, []byte(content)); err != nil {
			return SaveResult{}, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "write legacy file "+path, err)
		}
		totalSize += int64(len(content))
	}
	return SaveResult{Path: dir, FileCount: len(files), TotalSizeBytes: totalSize}, nil
}

// LookupGenerationDir searches the hierarchical layout first, then falls
// back to the flat legacy layout (§4.4). Returns the source/ subdirectory
// when hierarchical.
func (s *LocalStore) LookupGenerationDir(projectID string, version int, generationID string) (string, bool) {
	if projectID != "" && version > 0 {
		dir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID), "source")
		if fileutil.IsDir(dir) {
			return dir, true
		}
	}
	if projectID != "" {
		// version unknown: scan for a matching generation id.
		entries, err := os.ReadDir(s.generationsDir(projectID))
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if filepath.Ext(e.Name()) == "" && len(e.Name()) > 0 {
					suffix := "__" + generationID
					if len(e.Name()) >= len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
						dir := filepath.Join(s.generationsDir(projectID), e.Name(), "source")
						if fileutil.IsDir(dir) {
							return dir, true
						}
					}
				}
			}
		}
	}
	flat := filepath.Join(s.root, "projects", generationID)
	if fileutil.IsDir(flat) {
		return flat, true
	}
	return "", false
}

// ReadTree reads every file under dir into a Files map keyed by
// slash-separated relative path.
func (s *LocalStore) ReadTree(dir string) (provider.Files, error) {
	out := make(provider.Files)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := fileutil.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "read tree", err)
	}
	return out, nil
}

// SetActive atomically replaces the project's active pointer to point at
// version's generation directory. On platforms without symlink support the
// failure is logged and treated as non-fatal (§4.4).
func (s *LocalStore) SetActive(projectID string, version int) error {
	entries, err := os.ReadDir(s.generationsDir(projectID))
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "list generations", err)
	}
	prefix := fmt.Sprintf("v%d__", version)
	var target string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			target = e.Name()
			break
		}
	}
	if target == "" {
		return orcherr.New(orcherr.NotFound, "artifact.LocalStore", fmt.Sprintf("no generation directory for version %d", version))
	}

	active := filepath.Join(s.projectDir(projectID), "active")
	tmp := active + ".tmp"
	_ = os.Remove(tmp)
	relTarget := filepath.Join("generations", target)
	if err := os.Symlink(relTarget, tmp); err != nil {
		logger.GetLogger().Warn().Err(err).Str("project_id", projectID).Msg("symlink unsupported, active pointer not updated")
		return nil
	}
	if err := os.Rename(tmp, active); err != nil {
		logger.GetLogger().Warn().Err(err).Str("project_id", projectID).Msg("failed to atomically replace active pointer")
		return nil
	}
	return nil
}

// Cleanup moves generation directories outside the latest keepLatest
// versions and older than archiveAgeDays into archive/, preserving their
// directory name. Never deletes (§4.4).
func (s *LocalStore) Cleanup(projectID string, keepLatest int, archiveAgeDays int) error {
	entries, err := os.ReadDir(s.generationsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "list generations for cleanup", err)
	}

	type gen struct {
		name    string
		version int
		modTime time.Time
	}
	var gens []gen
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		var version int
		fmt.Sscanf(e.Name(), "v%d__", &version)
		gens = append(gens, gen{name: e.Name(), version: version, modTime: info.ModTime()})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].version > gens[j].version })

	archiveDir := filepath.Join(s.root, "archive", projectID)
	cutoff := time.Now().AddDate(0, 0, -archiveAgeDays)

	for i, g := range gens {
		if i < keepLatest {
			continue
		}
		if g.modTime.After(cutoff) {
			continue
		}
		if err := fileutil.EnsureDir(archiveDir); err != nil {
			return orcherr.Wrap(orcherr.StorageError, "artifact.LocalStore", "create archive dir", err)
		}
		src := filepath.Join(s.generationsDir(projectID), g.name)
		dst := filepath.Join(archiveDir, g.name)
		if err := os.Rename(src, dst); err != nil {
			logger.GetLogger().Warn().Err(err).Str("generation_dir", g.name).Msg("archive move failed, leaving in place")
			continue
		}
	}
	return nil
}
