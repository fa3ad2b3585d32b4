package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/artifact"
	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/iteration"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// fakeAllTaskProvider answers every ProviderPort method with canned,
// deterministic output so the orchestrator's stage sequencing can be
// exercised without a real backend.
type fakeAllTaskProvider struct {
	entities []provider.Entity
}

func (p *fakeAllTaskProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (provider.Schema, error) {
	return provider.Schema{Entities: p.entities}, nil
}

func (p *fakeAllTaskProvider) GenerateCode(ctx context.Context, prompt string, schema provider.Schema, genCtx map[string]any, sink provider.EventSink) (provider.Files, error) {
	return provider.Files{"generated.txt": "x"}, nil
}

func (p *fakeAllTaskProvider) ReviewCode(ctx context.Context, files provider.Files) (provider.ReviewReport, error) {
	return provider.ReviewReport{}, nil
}

func (p *fakeAllTaskProvider) GenerateDocumentation(ctx context.Context, files provider.Files, schema provider.Schema, genCtx map[string]any) (provider.DocFiles, error) {
	return provider.DocFiles{"README.md": "docs"}, nil
}

func (p *fakeAllTaskProvider) Info() provider.Info {
	return provider.Info{Name: "fake", Capabilities: []string{
		string(provider.TaskSchemaExtraction),
		string(provider.TaskCodeGeneration),
		string(provider.TaskCodeReview),
		string(provider.TaskDocumentation),
	}}
}

func newTestRegistry(entities []provider.Entity) *provider.Registry {
	p := &fakeAllTaskProvider{entities: entities}
	return provider.NewRegistry(provider.Config{DefaultProvider: provider.BackendLocal}, func(name provider.BackendName, creds provider.Credentials) (provider.Port, error) {
		return p, nil
	})
}

type fakeArtifactStore struct {
	mu        sync.Mutex
	saved     map[string]provider.Files
	incrWrites int
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{saved: make(map[string]provider.Files)}
}

func (s *fakeArtifactStore) SaveHierarchical(projectID, generationID string, version int, files provider.Files) (artifact.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[generationID] = files.Clone()
	return artifact.SaveResult{Path: "/tmp/" + generationID, FileCount: len(files)}, nil
}

func (s *fakeArtifactStore) SaveFlatLegacy(generationID string, files provider.Files) (artifact.SaveResult, error) {
	return artifact.SaveResult{}, nil
}

func (s *fakeArtifactStore) WriteIncremental(projectID, generationID string, version int, files provider.Files) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrWrites++
	return nil
}

func (s *fakeArtifactStore) LookupGenerationDir(projectID string, version int, generationID string) (string, bool) {
	return "", false
}

func (s *fakeArtifactStore) Diff(projectID string, fromVersion, toVersion int) (string, error) {
	return "", nil
}

func (s *fakeArtifactStore) SetActive(projectID string, version int) error { return nil }

func (s *fakeArtifactStore) Cleanup(projectID string, keepLatest int, archiveAgeDays int) error {
	return nil
}

func (s *fakeArtifactStore) ReadTree(dir string) (provider.Files, error) {
	return provider.Files{}, nil
}

type fakeGenerationRepo struct {
	mu    sync.Mutex
	rows  map[string]*generation.Generation
}

func newFakeGenerationRepo(rows ...*generation.Generation) *fakeGenerationRepo {
	r := &fakeGenerationRepo{rows: make(map[string]*generation.Generation)}
	for _, g := range rows {
		r.rows[g.ID] = g
	}
	return r
}

func (r *fakeGenerationRepo) Create(ctx context.Context, g *generation.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[g.ID] = g
	return nil
}

func (r *fakeGenerationRepo) GetByID(ctx context.Context, id string) (*generation.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *fakeGenerationRepo) ListByProject(ctx context.Context, projectID string) ([]*generation.Generation, error) {
	return nil, nil
}

func (r *fakeGenerationRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok || g.Status != generation.StatusPending {
		return false, nil
	}
	g.Status = generation.StatusProcessing
	return true, nil
}

func (r *fakeGenerationRepo) UpdateStatus(ctx context.Context, id string, status generation.Status, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok {
		g.Status = status
		g.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakeGenerationRepo) RecordOutputs(ctx context.Context, id string, input generation.RecordOutputsInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok {
		g.StoragePath = input.StoragePath
		g.FileCount = input.FileCount
		g.OutputFiles = input.OutputFiles
		g.ChangesSummary = input.ChangesSummary
	}
	return nil
}

type fakeProjectRepo struct {
	mu               sync.Mutex
	activeGeneration map[string]string
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{activeGeneration: make(map[string]string)}
}

func (r *fakeProjectRepo) Create(ctx context.Context, p *generation.Project) error { return nil }

func (r *fakeProjectRepo) GetByID(ctx context.Context, id string) (*generation.Project, error) {
	return nil, nil
}

func (r *fakeProjectRepo) FindRecentAutoCreated(ctx context.Context, userID, name string, since time.Time) (*generation.Project, error) {
	return nil, nil
}

func (r *fakeProjectRepo) NextVersion(ctx context.Context, projectID string) (int, error) {
	return 1, nil
}

func (r *fakeProjectRepo) SetActiveGeneration(ctx context.Context, projectID, generationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeGeneration[projectID] = generationID
	return nil
}

func TestOrchestrator_RunFreshPipelineCompletesAndSaves(t *testing.T) {
	registry := newTestRegistry([]provider.Entity{{Name: "User"}})
	bus := events.NewBus()
	artifacts := newFakeArtifactStore()
	gen := &generation.Generation{ID: "gen-1", ProjectID: "proj-1", Version: 1, Status: generation.StatusPending}
	generations := newFakeGenerationRepo(gen)
	projects := newFakeProjectRepo()
	engine := iteration.New(&fakeAllTaskProvider{}, bus, iteration.Config{})

	orch := NewOrchestrator(registry, bus, artifacts, generations, projects, engine)

	ch, ok := bus.Subscribe("gen-1")
	require.True(t, ok)

	orch.Run(context.Background(), Submission{
		ProjectID:    "proj-1",
		GenerationID: "gen-1",
		Version:      1,
		Prompt:       "Blog API with User and Post",
		Context:      map[string]any{},
	})

	var last events.Event
	for e := range ch {
		last = e
	}
	assert.Equal(t, events.StatusCompleted, last.Status)
	assert.Equal(t, generation.StatusCompleted, gen.Status)
	assert.Equal(t, "gen-1", projects.activeGeneration["proj-1"])
	assert.Contains(t, gen.OutputFiles, "README.md")
}

func TestOrchestrator_RunSkipsAlreadyClaimedGeneration(t *testing.T) {
	registry := newTestRegistry(nil)
	bus := events.NewBus()
	artifacts := newFakeArtifactStore()
	gen := &generation.Generation{ID: "gen-2", ProjectID: "proj-2", Version: 1, Status: generation.StatusProcessing}
	generations := newFakeGenerationRepo(gen)
	projects := newFakeProjectRepo()
	engine := iteration.New(&fakeAllTaskProvider{}, bus, iteration.Config{})

	orch := NewOrchestrator(registry, bus, artifacts, generations, projects, engine)
	orch.Run(context.Background(), Submission{ProjectID: "proj-2", GenerationID: "gen-2", Version: 1})

	assert.Equal(t, generation.StatusProcessing, gen.Status)
}

func TestOrchestrator_RunIterationDispatchesToEngineAndSkipsSchema(t *testing.T) {
	registry := newTestRegistry(nil)
	bus := events.NewBus()
	artifacts := newFakeArtifactStore()
	parent := &generation.Generation{
		ID: "parent-1", ProjectID: "proj-3", Version: 1, Status: generation.StatusCompleted,
		OutputFiles: map[string]string{"main.py": "x"},
	}
	child := &generation.Generation{ID: "gen-3", ProjectID: "proj-3", Version: 2, Status: generation.StatusPending}
	generations := newFakeGenerationRepo(parent, child)
	projects := newFakeProjectRepo()
	engine := iteration.New(&fakeAllTaskProvider{}, bus, iteration.Config{})

	orch := NewOrchestrator(registry, bus, artifacts, generations, projects, engine)
	orch.Run(context.Background(), Submission{
		ProjectID:          "proj-3",
		GenerationID:       "gen-3",
		Version:            2,
		Prompt:             "add an order model",
		Context:            map[string]any{},
		IsIteration:        true,
		ParentGenerationID: "parent-1",
	})

	assert.Equal(t, generation.StatusCompleted, child.Status)
	assert.NotNil(t, child.ChangesSummary)
}

func TestOrchestrator_RunRecordsFailureOnProviderError(t *testing.T) {
	registry := provider.NewRegistry(provider.Config{DefaultProvider: provider.BackendLocal}, func(name provider.BackendName, creds provider.Credentials) (provider.Port, error) {
		return nil, assertAnError{}
	})
	bus := events.NewBus()
	artifacts := newFakeArtifactStore()
	gen := &generation.Generation{ID: "gen-4", ProjectID: "proj-4", Version: 1, Status: generation.StatusPending}
	generations := newFakeGenerationRepo(gen)
	projects := newFakeProjectRepo()
	engine := iteration.New(&fakeAllTaskProvider{}, bus, iteration.Config{})

	orch := NewOrchestrator(registry, bus, artifacts, generations, projects, engine)

	ch, ok := bus.Subscribe("gen-4")
	require.True(t, ok)

	orch.Run(context.Background(), Submission{ProjectID: "proj-4", GenerationID: "gen-4", Version: 1, Prompt: "x", Context: map[string]any{}})

	var last events.Event
	for e := range ch {
		last = e
	}
	assert.Equal(t, events.StatusFailed, last.Status)
	assert.Equal(t, generation.StatusFailed, gen.Status)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "factory failed" }
