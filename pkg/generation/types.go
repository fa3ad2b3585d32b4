// Package generation implements the GenerationRepository (C6): persistence
// of Project and Generation records and their status transitions, backed by
// SQLite — adapted from the teacher's flat-JSON internal/project.Registry
// into a transactional store because §4.6 requires atomic version
// allocation and pending→processing claims that a JSON file cannot give
// without external locking.
package generation

import "time"

// ProjectStatus is a Project's lifecycle state (§3).
type ProjectStatus string

const (
	ProjectDraft    ProjectStatus = "draft"
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Status is a Generation's lifecycle state (§3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether s is a sticky terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Project is the top-level ownership unit for Generations (§3).
type Project struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	Name               string        `json:"name"`
	Domain             string        `json:"domain"`
	TechStack          string        `json:"tech_stack"`
	Status             ProjectStatus `json:"status"`
	AutoCreated        bool          `json:"auto_created"`
	CreationSource     string        `json:"creation_source"`
	OriginalPrompt     string        `json:"original_prompt"`
	LatestVersion      int           `json:"latest_version"`
	ActiveGenerationID string        `json:"active_generation_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// OriginalPromptMaxChars is the truncation limit applied when a Project is
// created from a raw prompt (§3, §4.8).
const OriginalPromptMaxChars = 1000

// ChangesSummary records the add/remove/modify shape of an iteration
// relative to its parent (§3, §4.4, §4.9).
type ChangesSummary struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Generation is one version of a Project's generated output (§3).
type Generation struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	ProjectID         string            `json:"project_id"`
	Version           int               `json:"version"`
	Prompt            string            `json:"prompt"`
	Context           map[string]any    `json:"context,omitempty"`
	Status            Status            `json:"status"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	IsIteration       bool              `json:"is_iteration"`
	ParentGenerationID string           `json:"parent_generation_id,omitempty"`
	StoragePath       string            `json:"storage_path,omitempty"`
	FileCount         int               `json:"file_count"`
	TotalSizeBytes    int64             `json:"total_size_bytes"`
	OutputFiles       map[string]string `json:"output_files,omitempty"`
	DiffFromPrevious  string            `json:"diff_from_previous,omitempty"`
	ChangesSummary    *ChangesSummary   `json:"changes_summary,omitempty"`
	QualityScore      float64           `json:"quality_score,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// ArtifactKind enumerates the per-generation artifact kinds (§3).
type ArtifactKind string

const (
	ArtifactSourceTree ArtifactKind = "source_tree"
	ArtifactZip        ArtifactKind = "zip"
	ArtifactOpenAPI    ArtifactKind = "openapi"
	ArtifactDiff       ArtifactKind = "diff"
	ArtifactManifest   ArtifactKind = "manifest"
)

// Artifact is a stored output belonging to a Generation (§3).
type Artifact struct {
	ID           string       `json:"id"`
	GenerationID string       `json:"generation_id"`
	Kind         ArtifactKind `json:"kind"`
	Path         string       `json:"path"`
	SizeBytes    int64        `json:"size_bytes"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RecordOutputsInput is the payload for RecordOutputs (§4.6).
type RecordOutputsInput struct {
	StoragePath      string
	FileCount        int
	TotalSizeBytes   int64
	OutputFiles      map[string]string
	DiffFromPrevious string
	ChangesSummary   *ChangesSummary
	QualityScore     float64
}
