// Package pipeline implements the PhasedCodeGenerator (C3) and Orchestrator
// (C10): the ordered multi-phase code generation sequence and the
// per-generation state machine that drives it end to end, grounded on the
// teacher's pkg/orchestra.DefaultOrchestrator phase/step execution loop —
// generalized from "requirements -> steps -> validated changes" into
// "schema -> phased files -> reviewed, documented, saved generation".
package pipeline

import (
	"context"
	"fmt"

	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// PersistenceHook is the incremental-write seam PhasedCodeGenerator uses to
// persist each phase's outputs as it goes (§4.3), so a crash mid-generation
// still leaves a partial project on disk. A nil hook disables incremental
// writes entirely.
type PersistenceHook interface {
	WriteIncremental(projectID, generationID string, version int, files provider.Files) error
}

// GeneratorInput is everything PhasedCodeGenerator needs for one run.
type GeneratorInput struct {
	ProjectID    string
	GenerationID string
	Version      int
	Schema       provider.Schema
	Context      map[string]any
	CodeProvider provider.Port
	Writer       PersistenceHook
}

// Generator runs the four-phase code generation sequence over a ProviderPort,
// publishing phase milestones to the bus and (when a writer is supplied)
// persisting incrementally after each phase completes.
type Generator struct {
	bus *events.Bus
}

// NewGenerator builds a Generator publishing to bus (nil is safe: all
// publishes become no-ops, useful for tests that don't care about events).
func NewGenerator(bus *events.Bus) *Generator {
	return &Generator{bus: bus}
}

// Run executes phases 1, 2 (once per schema entity), 5, and 6 in order,
// returning the union of all phase outputs (§4.3).
func (g *Generator) Run(ctx context.Context, in GeneratorInput) (provider.Files, error) {
	files := provider.Files{}
	n := len(in.Schema.Entities)

	g.emitPhase(in.GenerationID, "phased_generation_started", 0.05, fmt.Sprintf("generating %d entities", n),
		events.PhaseInfo{EntitiesCount: n})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	core, err := g.runPhase(ctx, in, "core infrastructure", buildCorePrompt(in.Schema, in.Context))
	if err != nil {
		return nil, err
	}
	mergeInto(files, core)
	g.persist(in, files)

	g.emitPhase(in.GenerationID, "phase_1_complete", 0.20, fmt.Sprintf("generated %d files", len(core)),
		events.PhaseInfo{FilesGenerated: len(core), TotalFiles: len(files)})

	for i, entity := range in.Schema.Entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := i + 1
		progress := 0.20 + 0.40*(float64(idx)/float64(n))
		g.emitPhase(in.GenerationID, fmt.Sprintf("entity_processing_%d", idx), progress,
			fmt.Sprintf("generating %s (%d/%d)", entity.Name, idx, n),
			events.PhaseInfo{CurrentPhase: idx, TotalPhases: n, Name: entity.Name})

		entityFiles, err := g.runPhase(ctx, in, "entity:"+entity.Name, buildEntityPrompt(entity, in.Schema, in.Context))
		if err != nil {
			return nil, err
		}
		mergeInto(files, entityFiles)
		g.persist(in, files)
	}

	g.emit(in.GenerationID, "phase_5_start", 0.65, "integrating routers")
	routerFiles, err := g.runPhase(ctx, in, "router integration", buildRouterPrompt(in.Schema, in.Context))
	if err != nil {
		return nil, err
	}
	mergeInto(files, routerFiles)
	g.persist(in, files)
	g.emit(in.GenerationID, "phase_5_complete", 0.70, fmt.Sprintf("generated %d router files", len(routerFiles)))

	g.emit(in.GenerationID, "phase_6_start", 0.75, "generating utilities")
	utilFiles, err := g.runPhase(ctx, in, "utilities", buildUtilityPrompt(in.Context))
	if err != nil {
		return nil, err
	}
	mergeInto(files, utilFiles)
	g.persist(in, files)
	g.emit(in.GenerationID, "phase_6_complete", 0.80, fmt.Sprintf("generated %d utility files", len(utilFiles)))

	g.emit(in.GenerationID, "phased_generation_complete", 0.80, fmt.Sprintf("%d files total", len(files)))

	return files, nil
}

// runPhase invokes the code provider for one phase prompt, retrying exactly
// once with a stricter reminder if the provider returns MalformedOutput
// (§4.3 edge cases), and propagating ProviderUnavailable on a second
// failure.
func (g *Generator) runPhase(ctx context.Context, in GeneratorInput, phaseName, prompt string) (provider.Files, error) {
	var result provider.Files
	sink := pipelineSink{bus: g.bus, generationID: in.GenerationID}

	op := func() error {
		out, err := in.CodeProvider.GenerateCode(ctx, prompt, in.Schema, in.Context, sink)
		if err != nil {
			return err
		}
		result = out
		return nil
	}
	retryOp := func() error {
		out, err := in.CodeProvider.GenerateCode(ctx, prompt+strictReminder, in.Schema, in.Context, sink)
		if err != nil {
			return orcherr.Wrap(orcherr.ProviderUnavailable, "pipeline.Generator",
				"phase "+phaseName+" failed after malformed-output retry", err)
		}
		result = out
		return nil
	}

	if err := provider.WithMalformedOutputRetry(op, retryOp); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Generator) persist(in GeneratorInput, files provider.Files) {
	if in.Writer == nil {
		return
	}
	if err := in.Writer.WriteIncremental(in.ProjectID, in.GenerationID, in.Version, files); err != nil {
		// Incremental persistence is best-effort resilience, not a
		// correctness requirement: the final SaveHierarchical call still
		// has to succeed for the generation to complete.
		g.emit(in.GenerationID, "incremental_persist_warning", -1, "incremental write failed: "+err.Error())
	}
}

func (g *Generator) emit(generationID, stage string, progress float64, message string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.New(generationID, stage, clampEmit(progress), message))
}

func (g *Generator) emitPhase(generationID, stage string, progress float64, message string, info events.PhaseInfo) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.New(generationID, stage, clampEmit(progress), message).WithPhase(info))
}

func clampEmit(p float64) float64 {
	if p < 0 {
		return 0
	}
	return p
}

func mergeInto(dst, src provider.Files) {
	for k, v := range src {
		dst[k] = v
	}
}

// pipelineSink adapts provider.EventSink onto the bus, relaying a provider's
// own in-call progress notifications under the same generation stream the
// Generator's own milestone events publish to.
type pipelineSink struct {
	bus          *events.Bus
	generationID string
}

func (s pipelineSink) Emit(stage string, progress float64, message string, phase *provider.PhaseInfo) {
	if s.bus == nil {
		return
	}
	e := events.New(s.generationID, stage, progress, message)
	if phase != nil {
		e = e.WithPhase(events.PhaseInfo{
			TotalPhases:    phase.TotalPhases,
			CurrentPhase:   phase.CurrentPhase,
			Name:           phase.Name,
			FilesGenerated: phase.FilesGenerated,
			TotalFiles:     phase.TotalFiles,
			EntitiesCount:  phase.EntitiesCount,
		})
	}
	s.bus.Publish(e)
}
