package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// stubProvider is a minimal Port implementation for registry tests.
type stubProvider struct {
	info  Info
	calls int
}

func (s *stubProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error) {
	return Schema{}, nil
}

func (s *stubProvider) GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error) {
	return Files{"main.go": "package main"}, nil
}

func (s *stubProvider) ReviewCode(ctx context.Context, files Files) (ReviewReport, error) {
	return ReviewReport{}, nil
}

func (s *stubProvider) GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error) {
	return DocFiles{}, nil
}

func (s *stubProvider) Info() Info {
	return s.info
}

func allTaskInfo(name string) Info {
	return Info{
		Name:  name,
		Model: "stub-model",
		Capabilities: []string{
			string(TaskSchemaExtraction), string(TaskCodeGeneration),
			string(TaskCodeReview), string(TaskDocumentation),
		},
	}
}

func TestRegistry_GetFallsBackToDefault(t *testing.T) {
	constructCount := 0
	factory := func(name BackendName, creds Credentials) (Port, error) {
		constructCount++
		return &stubProvider{info: allTaskInfo(string(name))}, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	p, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Info().Name)
	assert.Equal(t, 1, constructCount)
}

func TestRegistry_PerTaskOverride(t *testing.T) {
	factory := func(name BackendName, creds Credentials) (Port, error) {
		return &stubProvider{info: allTaskInfo(string(name))}, nil
	}

	reg := NewRegistry(Config{
		DefaultProvider:        BackendGemini,
		CodeReviewProvider:     BackendLocal,
	}, factory)

	p, err := reg.Get(TaskCodeReview)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Info().Name)

	p2, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p2.Info().Name)
}

func TestRegistry_GetIsIdempotent(t *testing.T) {
	constructCount := 0
	factory := func(name BackendName, creds Credentials) (Port, error) {
		constructCount++
		return &stubProvider{info: allTaskInfo(string(name))}, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	p1, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	p2, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, constructCount)
}

func TestRegistry_InitFailureSurfacesAsProviderUnavailable(t *testing.T) {
	factory := func(name BackendName, creds Credentials) (Port, error) {
		return nil, assertErr{"bad credentials"}
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	_, err := reg.Get(TaskCodeGeneration)
	require.Error(t, err)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// failingProvider always returns the same error, letting tests trip its
// circuit breaker deterministically.
type failingProvider struct {
	info Info
	err  error
}

func (f *failingProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error) {
	return Schema{}, f.err
}

func (f *failingProvider) GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error) {
	return nil, f.err
}

func (f *failingProvider) ReviewCode(ctx context.Context, files Files) (ReviewReport, error) {
	return ReviewReport{}, f.err
}

func (f *failingProvider) GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error) {
	return nil, f.err
}

func (f *failingProvider) Info() Info {
	return f.info
}

func TestRegistry_GetWrapsPortWithCircuitBreakerThatTripsOnRepeatedFailures(t *testing.T) {
	inner := &failingProvider{info: allTaskInfo("gemini"), err: assertErr{"same failure every time"}}
	factory := func(name BackendName, creds Credentials) (Port, error) {
		return inner, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	p, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)

	// Default threshold is 5 identical errors before the breaker trips.
	for i := 0; i < 5; i++ {
		_, err := p.ExtractSchema(context.Background(), "prompt", nil)
		require.Error(t, err)
	}

	_, err = p.ExtractSchema(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.Equal(t, orcherr.ProviderUnavailable, orcherr.KindOf(err))
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestRegistry_CircuitBreakerIsSharedAcrossTasksForSameBackend(t *testing.T) {
	inner := &failingProvider{info: allTaskInfo("gemini"), err: assertErr{"same failure every time"}}
	factory := func(name BackendName, creds Credentials) (Port, error) {
		return inner, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	codeGen, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _ = codeGen.ExtractSchema(context.Background(), "prompt", nil)
	}

	review, err := reg.Get(TaskCodeReview)
	require.NoError(t, err)
	_, err = review.ReviewCode(context.Background(), Files{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestRegistry_UnsupportedTaskRejected(t *testing.T) {
	factory := func(name BackendName, creds Credentials) (Port, error) {
		return &stubProvider{info: Info{Name: string(name), Capabilities: []string{string(TaskCodeReview)}}}, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)

	_, err := reg.Get(TaskCodeGeneration)
	require.Error(t, err)
}

func TestRegistry_SetConfigClearsCache(t *testing.T) {
	constructCount := 0
	factory := func(name BackendName, creds Credentials) (Port, error) {
		constructCount++
		return &stubProvider{info: allTaskInfo(string(name))}, nil
	}

	reg := NewRegistry(Config{DefaultProvider: BackendGemini}, factory)
	_, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, 1, constructCount)

	reg.SetConfig(Config{DefaultProvider: BackendLocal})
	p, err := reg.Get(TaskCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Info().Name)
	assert.Equal(t, 2, constructCount)
}
