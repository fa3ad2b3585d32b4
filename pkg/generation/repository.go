package generation

import (
	"context"
	"time"
)

// ProjectRepository persists Project records (§3) and supports the
// dedup lookup AutoProjectService (C8) needs.
type ProjectRepository interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id string) (*Project, error)
	FindRecentAutoCreated(ctx context.Context, userID, name string, since time.Time) (*Project, error)
	NextVersion(ctx context.Context, projectID string) (int, error)
	SetActiveGeneration(ctx context.Context, projectID, generationID string) error
}

// GenerationRepository persists Generation records and their status
// transitions (C6, §4.6). NextVersion and the pending→processing claim are
// the only ordered-write points and must be implemented atomically by the
// underlying store; every other update is last-writer-wins on non-terminal
// fields.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListByProject(ctx context.Context, projectID string) ([]*Generation, error)

	// ClaimForProcessing transitions a generation from pending to
	// processing atomically, returning false (no error) if it was not in
	// pending state when the claim was attempted.
	ClaimForProcessing(ctx context.Context, id string) (bool, error)

	UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error
	RecordOutputs(ctx context.Context, id string, input RecordOutputsInput) error
}
