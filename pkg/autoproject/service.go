// Package autoproject implements the AutoProjectService (C8): given a user,
// prompt, context, and creation source, it returns a Project — creating one
// only if no suitable auto-created sibling already exists — grounded on the
// teacher's internal/project.Registry lifecycle but backed by
// pkg/generation's transactional repository instead of a flat JSON file.
package autoproject

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/genforge-dev/genforge/internal/logger"
	"github.com/genforge-dev/genforge/pkg/classify"
	"github.com/genforge-dev/genforge/pkg/generation"
)

// dedupWindow is the lookback window for reusing an auto-created sibling
// project (§4.8). A package-level var, like pipeline's stage timeouts, so
// the service wiring can override it from configuration.
var dedupWindow = 3600 * time.Second

// SetDedupWindow overrides the dedup lookback window, letting the service
// wiring apply a configured value at startup.
func SetDedupWindow(d time.Duration) {
	dedupWindow = d
}

// Service resolves or creates the Project that an unattached generation
// should attach to.
type Service struct {
	projects generation.ProjectRepository
}

// New builds a Service over the given ProjectRepository.
func New(projects generation.ProjectRepository) *Service {
	return &Service{projects: projects}
}

// Resolve returns an existing auto-created project matching the classified
// suggested name within the dedup window, or creates a new one. A dedup
// lookup failure never blocks generation: it is logged and a new project is
// created instead (§4.8).
func (s *Service) Resolve(ctx context.Context, userID, prompt, creationSource string, extra map[string]any) (*generation.Project, error) {
	result := classify.Classify(prompt)

	since := time.Now().UTC().Add(-dedupWindow)
	existing, err := s.projects.FindRecentAutoCreated(ctx, userID, result.SuggestedName, since)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Str("user_id", userID).Msg("auto-project dedup lookup failed, creating new project")
	} else if existing != nil {
		return existing, nil
	}

	p := &generation.Project{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           result.SuggestedName,
		Domain:         string(result.Domain),
		TechStack:      result.TechStack,
		Status:         generation.ProjectDraft,
		AutoCreated:    true,
		CreationSource: creationSource,
		OriginalPrompt: truncatePrompt(prompt),
		LatestVersion:  0,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func truncatePrompt(prompt string) string {
	if len(prompt) <= generation.OriginalPromptMaxChars {
		return prompt
	}
	return prompt[:generation.OriginalPromptMaxChars]
}
