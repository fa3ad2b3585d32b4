package artifact

import (
	"encoding/json"
	"time"
)

// Manifest is the per-generation metadata file (§4.4).
type Manifest struct {
	GenerationID   string         `json:"generation_id"`
	ProjectID      string         `json:"project_id"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	FileCount      int            `json:"file_count"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	Files          []string       `json:"files"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Marshal renders the manifest as indented JSON.
func (m Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest parses a manifest from JSON bytes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(data, &m)
	return m, err
}
