package iteration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

type stubProvider struct {
	changes provider.Files
	err     error
}

func (s *stubProvider) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (provider.Schema, error) {
	return provider.Schema{}, nil
}

func (s *stubProvider) GenerateCode(ctx context.Context, prompt string, schema provider.Schema, genCtx map[string]any, sink provider.EventSink) (provider.Files, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.changes, nil
}

func (s *stubProvider) ReviewCode(ctx context.Context, files provider.Files) (provider.ReviewReport, error) {
	return provider.ReviewReport{}, nil
}

func (s *stubProvider) GenerateDocumentation(ctx context.Context, files provider.Files, schema provider.Schema, genCtx map[string]any) (provider.DocFiles, error) {
	return provider.DocFiles{}, nil
}

func (s *stubProvider) Info() provider.Info {
	return provider.Info{Name: "stub", Capabilities: []string{"code_generation"}}
}

func TestEngine_RunAddIntentUnionsFiles(t *testing.T) {
	existing := provider.Files{"main.py": "x", "models/user.py": "y"}
	sp := &stubProvider{changes: provider.Files{"models/order.py": "z"}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	result, err := engine.Run(context.Background(), "parent-1", Input{
		GenerationID:        "gen-1",
		ExistingFiles:       existing,
		ModificationPrompt:  "add an order model",
		Context:             map[string]any{},
	})
	require.NoError(t, err)
	assert.Len(t, result.Files, 3)
	assert.Equal(t, IntentAdd, result.Intent)
	assert.Contains(t, result.Added, "models/order.py")
}

func TestEngine_RunRemoveIntentDeletesPaths(t *testing.T) {
	existing := provider.Files{"main.py": "x", "legacy.py": "y", "b.py": "z", "c.py": "w", "d.py": "v"}
	sp := &stubProvider{changes: provider.Files{"legacy.py": ""}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	result, err := engine.Run(context.Background(), "parent-2", Input{
		GenerationID:       "gen-2",
		ExistingFiles:      existing,
		ModificationPrompt: "delete the legacy file",
		Context:            map[string]any{},
	})
	require.NoError(t, err)
	_, hasLegacy := result.Files["legacy.py"]
	assert.False(t, hasLegacy)
	assert.Contains(t, result.Removed, "legacy.py")
}

func TestEngine_RunFailsWithIterationProducedEmpty(t *testing.T) {
	existing := provider.Files{"only.py": "x"}
	sp := &stubProvider{changes: provider.Files{"only.py": ""}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	_, err := engine.Run(context.Background(), "parent-3", Input{
		GenerationID:       "gen-3",
		ExistingFiles:      existing,
		ModificationPrompt: "remove everything",
		Context:            map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, orcherr.IterationProducedEmpty, orcherr.KindOf(err))
}

func TestEngine_RunNoDataLossOnNormalUnionMerge(t *testing.T) {
	// Under the union merge formula, a correct add/modify merge is always a
	// superset of existing, so the ordinary Run path never trips the guard.
	existing := provider.Files{"a.py": "1", "b.py": "2", "c.py": "3", "d.py": "4", "e.py": "5"}
	sp := &stubProvider{changes: provider.Files{"a.py": "1-fixed"}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	_, err := engine.Run(context.Background(), "parent-4", Input{
		GenerationID:       "gen-4",
		ExistingFiles:      existing,
		ModificationPrompt: "fix a typo",
		Context:            map[string]any{},
	})
	require.NoError(t, err)
}

func TestDataLossTriggered_NonRemoveShrinkageBelowThreshold(t *testing.T) {
	// Exercises the guard's threshold logic directly (§4.9, §8 E5): 2 of 15
	// parent files surviving is well under the 0.8 retention floor.
	assert.True(t, dataLossTriggered(15, 2, IntentAdd))
	assert.False(t, dataLossTriggered(15, 12, IntentAdd))
	assert.False(t, dataLossTriggered(15, 2, IntentRemove))
}

func TestEngine_RunEmitsNoChangesWhenProviderReturnsNoEdits(t *testing.T) {
	existing := provider.Files{"main.py": "x", "models/user.py": "y"}
	sp := &stubProvider{changes: provider.Files{}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	result, err := engine.Run(context.Background(), "parent-7", Input{
		GenerationID:       "gen-7",
		ExistingFiles:      existing,
		ModificationPrompt: "no-op request",
		Context:            map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, existing, result.Files)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Removed)

	ch, ok := bus.Subscribe("gen-7")
	require.True(t, ok)

	var sawNoChanges bool
	for e := range ch {
		if e.Stage == "no_changes" {
			sawNoChanges = true
			assert.Equal(t, events.StatusCompleted, e.Status)
		}
	}
	assert.True(t, sawNoChanges, "expected a no_changes event on the generation's stream")
}

func TestEngine_RunSameParentSucceedsAfterPriorRunCompletes(t *testing.T) {
	existing := provider.Files{"a.py": "1"}
	sp := &stubProvider{changes: provider.Files{"b.py": "2"}}
	bus := events.NewBus()
	engine := New(sp, bus, Config{})

	done := make(chan struct{})
	go func() {
		_, _ = engine.Run(context.Background(), "shared-parent", Input{
			GenerationID:       "gen-5",
			ExistingFiles:      existing,
			ModificationPrompt: "add a thing",
			Context:            map[string]any{},
		})
		close(done)
	}()
	<-done

	_, err := engine.Run(context.Background(), "shared-parent", Input{
		GenerationID:       "gen-6",
		ExistingFiles:      existing,
		ModificationPrompt: "add another thing",
		Context:            map[string]any{},
	})
	require.NoError(t, err)
}
