package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

type scriptedProvider struct {
	callCount int
	byCall    []provider.Files
	errByCall []error
}

func (p *scriptedProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (provider.Schema, error) {
	return provider.Schema{}, nil
}

func (p *scriptedProvider) GenerateCode(ctx context.Context, prompt string, schema provider.Schema, genCtx map[string]any, sink provider.EventSink) (provider.Files, error) {
	idx := p.callCount
	p.callCount++
	if idx < len(p.errByCall) && p.errByCall[idx] != nil {
		return nil, p.errByCall[idx]
	}
	if idx < len(p.byCall) {
		return p.byCall[idx], nil
	}
	return provider.Files{}, nil
}

func (p *scriptedProvider) ReviewCode(ctx context.Context, files provider.Files) (provider.ReviewReport, error) {
	return provider.ReviewReport{}, nil
}

func (p *scriptedProvider) GenerateDocumentation(ctx context.Context, files provider.Files, schema provider.Schema, genCtx map[string]any) (provider.DocFiles, error) {
	return provider.DocFiles{}, nil
}

func (p *scriptedProvider) Info() provider.Info {
	return provider.Info{Name: "scripted", Capabilities: []string{"code_generation"}}
}

type recordingWriter struct {
	calls []provider.Files
}

func (w *recordingWriter) WriteIncremental(projectID, generationID string, version int, files provider.Files) error {
	snapshot := files.Clone()
	w.calls = append(w.calls, snapshot)
	return nil
}

func schemaWithEntities(names ...string) provider.Schema {
	entities := make([]provider.Entity, 0, len(names))
	for _, n := range names {
		entities = append(entities, provider.Entity{Name: n, Fields: []provider.Field{{Name: "id", Type: "int"}}})
	}
	return provider.Schema{Entities: entities}
}

func TestGenerator_RunTwoEntitiesProducesAllPhaseOutputs(t *testing.T) {
	sp := &scriptedProvider{byCall: []provider.Files{
		{"main.py": "core"},             // phase 1
		{"models/user.py": "u"},         // entity 1
		{"models/post.py": "p"},         // entity 2
		{"routers/__init__.py": "r"},    // phase 5
		{"utils/security.py": "sec"},    // phase 6
	}}
	bus := events.NewBus()
	gen := NewGenerator(bus)

	files, err := gen.Run(context.Background(), GeneratorInput{
		ProjectID:    "proj-1",
		GenerationID: "gen-1",
		Version:      1,
		Schema:       schemaWithEntities("User", "Post"),
		Context:      map[string]any{},
		CodeProvider: sp,
	})

	require.NoError(t, err)
	assert.Len(t, files, 5)
	assert.Equal(t, "core", files["main.py"])
	assert.Equal(t, "u", files["models/user.py"])
	assert.Equal(t, "p", files["models/post.py"])
}

func TestGenerator_RunZeroEntitiesSkipsPhaseTwo(t *testing.T) {
	sp := &scriptedProvider{byCall: []provider.Files{
		{"main.py": "core"},
		{"routers/__init__.py": "r"},
		{"utils/security.py": "sec"},
	}}
	bus := events.NewBus()
	gen := NewGenerator(bus)

	files, err := gen.Run(context.Background(), GeneratorInput{
		ProjectID:    "proj-2",
		GenerationID: "gen-2",
		Version:      1,
		Schema:       provider.Schema{},
		Context:      map[string]any{},
		CodeProvider: sp,
	})

	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, 3, sp.callCount)
}

func TestGenerator_RunPersistsIncrementallyAfterEachPhase(t *testing.T) {
	sp := &scriptedProvider{byCall: []provider.Files{
		{"main.py": "core"},
		{"models/user.py": "u"},
		{"routers/__init__.py": "r"},
		{"utils/security.py": "sec"},
	}}
	bus := events.NewBus()
	gen := NewGenerator(bus)
	writer := &recordingWriter{}

	_, err := gen.Run(context.Background(), GeneratorInput{
		ProjectID:    "proj-3",
		GenerationID: "gen-3",
		Version:      1,
		Schema:       schemaWithEntities("User"),
		Context:      map[string]any{},
		CodeProvider: sp,
		Writer:       writer,
	})

	require.NoError(t, err)
	// core, entity, router, utility: 4 incremental writes.
	require.Len(t, writer.calls, 4)
	assert.Len(t, writer.calls[0], 1)
	assert.Len(t, writer.calls[len(writer.calls)-1], 4)
}

func TestGenerator_RunRetriesOnceOnMalformedOutputThenSucceeds(t *testing.T) {
	sp := &scriptedProvider{
		errByCall: []error{orcherr.New(orcherr.MalformedOutput, "test", "bad json")},
		byCall:    []provider.Files{nil, {"main.py": "core"}, {}, {}},
	}
	bus := events.NewBus()
	gen := NewGenerator(bus)

	files, err := gen.Run(context.Background(), GeneratorInput{
		ProjectID:    "proj-4",
		GenerationID: "gen-4",
		Version:      1,
		Schema:       provider.Schema{},
		Context:      map[string]any{},
		CodeProvider: sp,
	})

	require.NoError(t, err)
	assert.Equal(t, "core", files["main.py"])
}

func TestGenerator_RunPropagatesProviderUnavailableAfterSecondMalformedOutput(t *testing.T) {
	malformed := orcherr.New(orcherr.MalformedOutput, "test", "bad json")
	sp := &scriptedProvider{errByCall: []error{malformed, malformed}}
	bus := events.NewBus()
	gen := NewGenerator(bus)

	_, err := gen.Run(context.Background(), GeneratorInput{
		ProjectID:    "proj-5",
		GenerationID: "gen-5",
		Version:      1,
		Schema:       provider.Schema{},
		Context:      map[string]any{},
		CodeProvider: sp,
	})

	require.Error(t, err)
	assert.Equal(t, orcherr.ProviderUnavailable, orcherr.KindOf(err))
}
