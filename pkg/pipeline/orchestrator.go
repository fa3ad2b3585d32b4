package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/genforge-dev/genforge/internal/logger"
	"github.com/genforge-dev/genforge/pkg/artifact"
	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/iteration"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// Timeouts are the per-stage defaults (§5): exceeding one raises Transient.
var (
	SchemaExtractionTimeout = 5 * time.Minute
	CodeGenerationTimeout   = 10 * time.Minute
	CodeReviewTimeout       = 5 * time.Minute
	DocumentationTimeout    = 5 * time.Minute
)

// Submission is the input to Orchestrator.Run: everything the submission
// handler already resolved (project, generation row, dispatch kind) before
// handing off (§4.10, §6).
type Submission struct {
	ProjectID          string
	GenerationID       string
	Version            int
	Prompt             string
	Context            map[string]any
	EnhancedMode       bool
	IsIteration        bool
	ParentGenerationID string
}

// pipelineResult is what the fresh/iteration paths hand back to Run for
// final save and bookkeeping.
type pipelineResult struct {
	files          provider.Files
	changesSummary *generation.ChangesSummary
}

// Orchestrator owns the per-Generation state machine: claim, dispatch
// (iteration vs fresh pipeline), stage sequencing, and finalization —
// grounded on the teacher's pkg/orchestra.DefaultOrchestrator Analyze ->
// Plan -> Execute -> Validate loop, generalized from a fixed agent pipeline
// into schema -> code -> review -> docs -> save with an iteration shortcut.
type Orchestrator struct {
	registry    *provider.Registry
	bus         *events.Bus
	artifacts   artifact.Store
	generations generation.GenerationRepository
	projects    generation.ProjectRepository
	generator   *Generator
	iterations  *iteration.Engine
}

// NewOrchestrator wires every dependency the state machine needs.
func NewOrchestrator(
	registry *provider.Registry,
	bus *events.Bus,
	artifacts artifact.Store,
	generations generation.GenerationRepository,
	projects generation.ProjectRepository,
	iterations *iteration.Engine,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		bus:         bus,
		artifacts:   artifacts,
		generations: generations,
		projects:    projects,
		generator:   NewGenerator(bus),
		iterations:  iterations,
	}
}

// Run drives one Generation from pending through to completed or failed. It
// deliberately does not return an error: the caller is typically a goroutine
// spawned per submission after the HTTP response has already been sent, so
// every failure is instead recorded on the Generation and emitted as a
// terminal failed event.
func (o *Orchestrator) Run(ctx context.Context, sub Submission) {
	claimed, err := o.generations.ClaimForProcessing(ctx, sub.GenerationID)
	if err != nil {
		o.fail(sub.GenerationID, "failed to claim generation for processing", err)
		return
	}
	if !claimed {
		// Another worker already owns this generation; nothing to do.
		return
	}

	var (
		result pipelineResult
		runErr error
	)
	if sub.IsIteration {
		result, runErr = o.runIteration(ctx, sub)
	} else {
		result, runErr = o.runFreshPipeline(ctx, sub)
	}

	if runErr != nil {
		logger.GetLogger().Warn().Err(runErr).Str("generation_id", sub.GenerationID).
			Str("stage", stageFor(runErr)).Msg("generation pipeline failed")
		o.fail(sub.GenerationID, "generation failed", runErr)
		return
	}

	o.emit(sub.GenerationID, "saving", 0.98, "Saving generation...")
	saveResult, err := o.artifacts.SaveHierarchical(sub.ProjectID, sub.GenerationID, sub.Version, result.files)
	if err != nil {
		o.fail(sub.GenerationID, "failed to save generation artifacts", err)
		return
	}

	if err := o.generations.RecordOutputs(ctx, sub.GenerationID, generation.RecordOutputsInput{
		StoragePath:    saveResult.Path,
		FileCount:      saveResult.FileCount,
		TotalSizeBytes: saveResult.TotalSizeBytes,
		OutputFiles:    result.files,
		ChangesSummary: result.changesSummary,
	}); err != nil {
		o.fail(sub.GenerationID, "failed to record generation outputs", err)
		return
	}

	if err := o.generations.UpdateStatus(ctx, sub.GenerationID, generation.StatusCompleted, ""); err != nil {
		o.fail(sub.GenerationID, "failed to finalize generation status", err)
		return
	}
	if err := o.projects.SetActiveGeneration(ctx, sub.ProjectID, sub.GenerationID); err != nil {
		logger.GetLogger().Warn().Err(err).Str("project_id", sub.ProjectID).
			Msg("failed to update active generation pointer; generation itself completed")
	}

	o.bus.Publish(events.Completed(sub.GenerationID, "Generation complete!"))
}

// runFreshPipeline executes schema_extraction -> code_generation (C3's four
// phases) -> review -> docs, returning the final file set (§4.10 fresh
// path).
func (o *Orchestrator) runFreshPipeline(ctx context.Context, sub Submission) (pipelineResult, error) {
	o.emit(sub.GenerationID, "initialization", 0.02, "Starting code generation pipeline...")

	if sub.EnhancedMode {
		o.emit(sub.GenerationID, "context_analysis", 0.05, "Analyzing project context...")
	}

	if err := checkCancelled(ctx); err != nil {
		return pipelineResult{}, err
	}

	schemaProvider, err := o.registry.Get(provider.TaskSchemaExtraction)
	if err != nil {
		return pipelineResult{}, err
	}
	o.emit(sub.GenerationID, "schema_extraction", 0.10, "Extracting project schema...")
	schema, err := withStageTimeout(ctx, SchemaExtractionTimeout, func(stageCtx context.Context) (provider.Schema, error) {
		return schemaProvider.ExtractSchema(stageCtx, sub.Prompt, sub.Context)
	})
	if err != nil {
		return pipelineResult{}, err
	}

	if err := checkCancelled(ctx); err != nil {
		return pipelineResult{}, err
	}

	codeProvider, err := o.registry.Get(provider.TaskCodeGeneration)
	if err != nil {
		return pipelineResult{}, err
	}
	o.emit(sub.GenerationID, "code_generation_start", 0.15, "Starting code generation...")
	genCtx, cancel := context.WithTimeout(ctx, CodeGenerationTimeout)
	files, err := o.generator.Run(genCtx, GeneratorInput{
		ProjectID:    sub.ProjectID,
		GenerationID: sub.GenerationID,
		Version:      sub.Version,
		Schema:       schema,
		Context:      sub.Context,
		CodeProvider: codeProvider,
		Writer:       o.artifacts,
	})
	cancel()
	if err != nil {
		if ctx.Err() == nil && genCtx.Err() == context.DeadlineExceeded {
			err = orcherr.Wrap(orcherr.Transient, "pipeline.Orchestrator", "code generation exceeded its timeout", err)
		}
		return pipelineResult{}, err
	}
	o.emit(sub.GenerationID, "code_generation_complete", 0.85, fmt.Sprintf("Generated %d files", len(files)))

	if err := checkCancelled(ctx); err != nil {
		return pipelineResult{}, err
	}

	reviewProvider, err := o.registry.Get(provider.TaskCodeReview)
	if err != nil {
		return pipelineResult{}, err
	}
	o.emit(sub.GenerationID, "code_review", 0.92, "Reviewing generated code...")
	if _, err := withStageTimeout(ctx, CodeReviewTimeout, func(stageCtx context.Context) (provider.ReviewReport, error) {
		return reviewProvider.ReviewCode(stageCtx, files)
	}); err != nil {
		return pipelineResult{}, err
	}

	if err := checkCancelled(ctx); err != nil {
		return pipelineResult{}, err
	}

	docsProvider, err := o.registry.Get(provider.TaskDocumentation)
	if err != nil {
		return pipelineResult{}, err
	}
	o.emit(sub.GenerationID, "documentation", 0.95, "Generating documentation...")
	docs, err := withStageTimeout(ctx, DocumentationTimeout, func(stageCtx context.Context) (provider.DocFiles, error) {
		return docsProvider.GenerateDocumentation(stageCtx, files, schema, sub.Context)
	})
	if err != nil {
		return pipelineResult{}, err
	}
	for path, content := range docs {
		files[path] = content
	}

	return pipelineResult{files: files}, nil
}

// runIteration loads the parent generation's output files and hands off to
// IterationEngine, skipping the schema stage entirely (§4.10 dispatch).
func (o *Orchestrator) runIteration(ctx context.Context, sub Submission) (pipelineResult, error) {
	parent, err := o.generations.GetByID(ctx, sub.ParentGenerationID)
	if err != nil {
		return pipelineResult{}, err
	}
	if parent.Status != generation.StatusCompleted {
		return pipelineResult{}, orcherr.New(orcherr.InvalidRequest, "pipeline.Orchestrator",
			"parent generation is not completed")
	}

	existing := parent.OutputFiles
	if len(existing) == 0 {
		if dir, ok := o.artifacts.LookupGenerationDir(sub.ProjectID, parent.Version, parent.ID); ok {
			tree, err := o.artifacts.ReadTree(dir)
			if err != nil {
				return pipelineResult{}, err
			}
			existing = tree
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, CodeGenerationTimeout)
	defer cancel()

	result, err := o.iterations.Run(genCtx, sub.ParentGenerationID, iteration.Input{
		GenerationID:        sub.GenerationID,
		ExistingFiles:       existing,
		ModificationPrompt:  sub.Prompt,
		Context:             sub.Context,
	})
	if err != nil {
		return pipelineResult{}, err
	}

	return pipelineResult{
		files:          result.Files,
		changesSummary: &generation.ChangesSummary{Added: result.Added, Removed: result.Removed},
	}, nil
}

func (o *Orchestrator) fail(generationID, message string, err error) {
	errMsg := err.Error()
	if err == context.Canceled {
		errMsg = "cancelled"
	}
	_ = o.generations.UpdateStatus(context.Background(), generationID, generation.StatusFailed, errMsg)
	o.bus.Publish(events.Failed(generationID, "error", message, errMsg))
}

func (o *Orchestrator) emit(generationID, stage string, progress float64, message string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.New(generationID, stage, progress, message))
}

// checkCancelled surfaces context cancellation at a stage boundary (§5,
// §4.10): cooperative, never interrupting a provider call mid-flight.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// withStageTimeout bounds op by timeout and translates a deadline-exceeded
// failure into Transient (§5 "per-stage timeout ... raises Transient on
// exceed").
func withStageTimeout[T any](parent context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	result, err := op(ctx)
	if err != nil && parent.Err() == nil && ctx.Err() == context.DeadlineExceeded {
		var zero T
		return zero, orcherr.Wrap(orcherr.Transient, "pipeline.Orchestrator", "stage exceeded its timeout", err)
	}
	return result, err
}

// stageFor reports a coarse stage label for a failure, used only for log
// attribution; the wire failure event always uses stage="error" per §4.10.
func stageFor(err error) string {
	switch orcherr.KindOf(err) {
	case orcherr.ProviderUnavailable:
		return "code_generation"
	case orcherr.DataLossDetected, orcherr.IterationProducedEmpty:
		return "iteration"
	case orcherr.StorageError:
		return "save"
	default:
		return "error"
	}
}
