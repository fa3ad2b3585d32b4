package autoproject

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/orcherr"
)

type stubProjectRepo struct {
	created      []*generation.Project
	dedupResult  *generation.Project
	dedupErr     error
	createErr    error
	nextVersions map[string]int
}

func (s *stubProjectRepo) Create(ctx context.Context, p *generation.Project) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, p)
	return nil
}

func (s *stubProjectRepo) GetByID(ctx context.Context, id string) (*generation.Project, error) {
	for _, p := range s.created {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, orcherr.New(orcherr.NotFound, "stub", "not found")
}

func (s *stubProjectRepo) FindRecentAutoCreated(ctx context.Context, userID, name string, since time.Time) (*generation.Project, error) {
	if s.dedupErr != nil {
		return nil, s.dedupErr
	}
	return s.dedupResult, nil
}

func (s *stubProjectRepo) NextVersion(ctx context.Context, projectID string) (int, error) {
	if s.nextVersions == nil {
		s.nextVersions = make(map[string]int)
	}
	s.nextVersions[projectID]++
	return s.nextVersions[projectID], nil
}

func (s *stubProjectRepo) SetActiveGeneration(ctx context.Context, projectID, generationID string) error {
	return nil
}

func TestService_ResolveReusesRecentAutoCreatedSibling(t *testing.T) {
	existing := &generation.Project{ID: "proj-existing", Name: "Shop API", AutoCreated: true}
	repo := &stubProjectRepo{dedupResult: existing}
	svc := New(repo)

	got, err := svc.Resolve(context.Background(), "user-1", "Build a shop with a cart", "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "proj-existing", got.ID)
	assert.Empty(t, repo.created, "should not create a new project when a sibling is reused")
}

func TestService_ResolveCreatesWhenNoSiblingFound(t *testing.T) {
	repo := &stubProjectRepo{dedupResult: nil}
	svc := New(repo)

	got, err := svc.Resolve(context.Background(), "user-1", "Build a task tracker", "prompt", nil)
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.True(t, got.AutoCreated)
	assert.Equal(t, "prompt", got.CreationSource)
}

func TestService_ResolveProceedsWhenDedupLookupFails(t *testing.T) {
	repo := &stubProjectRepo{dedupErr: orcherr.New(orcherr.StorageError, "stub", "boom")}
	svc := New(repo)

	got, err := svc.Resolve(context.Background(), "user-1", "Build a blog", "prompt", nil)
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.NotNil(t, got)
}

func TestService_ResolveTruncatesOriginalPrompt(t *testing.T) {
	repo := &stubProjectRepo{}
	svc := New(repo)

	long := make([]byte, generation.OriginalPromptMaxChars+100)
	for i := range long {
		long[i] = 'a'
	}

	got, err := svc.Resolve(context.Background(), "user-1", string(long), "prompt", nil)
	require.NoError(t, err)
	assert.Len(t, got.OriginalPrompt, generation.OriginalPromptMaxChars)
}
