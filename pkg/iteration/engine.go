// Package iteration implements the IterationEngine (C9): derives a new
// version of a project from a parent by detecting the caller's intent,
// assembling a context prompt over the parent's files, invoking the code
// generation provider, merging the result, and validating against data
// loss — grounded on the teacher's pkg/orchestra phase/step pipeline, with
// per-parent serialization mirroring pkg/agent's mutex-keyed rate limiting.
package iteration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/orcherr"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// dataLossThreshold is the fraction of the parent's file count below which
// a shrinking result (for a non-remove intent) is treated as data loss
// (§4.9).
const dataLossThreshold = 0.8

// Input is what the engine needs to run one iteration.
type Input struct {
	GenerationID       string
	ExistingFiles      provider.Files
	ModificationPrompt string
	Context            map[string]any
}

// Result is the engine's successful output.
type Result struct {
	Files   provider.Files
	Intent  Intent
	Added   []string
	Removed []string
}

// AllowDataLossWarningOnly downgrades the default-abort data-loss guard to
// a warning, per the §4.9 design note allowing configuration to do so.
type Config struct {
	AllowDataLossWarningOnly bool
}

// Engine runs iterations against a ProviderPort, serializing concurrent
// iterations that target the same parent generation (§4.9 concurrency:
// "iterations against the same parent are serialized").
type Engine struct {
	providers provider.Port
	bus       *events.Bus
	cfg       Config

	mu       sync.Mutex
	parentMu map[string]*sync.Mutex
}

// New builds an Engine over the given provider and event bus.
func New(providers provider.Port, bus *events.Bus, cfg Config) *Engine {
	return &Engine{
		providers: providers,
		bus:       bus,
		cfg:       cfg,
		parentMu:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(parentGenerationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.parentMu[parentGenerationID]
	if !ok {
		m = &sync.Mutex{}
		e.parentMu[parentGenerationID] = m
	}
	return m
}

// Run executes one iteration against parentGenerationID, publishing
// progress events through the bus under input.GenerationID (§4.9's event
// table) and returning the merged file set.
func (e *Engine) Run(ctx context.Context, parentGenerationID string, input Input) (Result, error) {
	lock := e.lockFor(parentGenerationID)
	lock.Lock()
	defer lock.Unlock()

	e.emit(input.GenerationID, "iteration_start", 0.05, "starting iteration")

	intent := DetectIntent(input.ModificationPrompt)
	e.emitWithIntent(input.GenerationID, intent)

	e.emit(input.GenerationID, "context_building", 0.20, "assembling context from parent files")
	contextPrompt := BuildContextPrompt(input.ExistingFiles, input.ModificationPrompt, intent)
	schema := SchemaFromFiles(input.ExistingFiles)

	e.emit(input.GenerationID, "code_generation", 0.40, "generating changes")
	providerContext := cloneContext(input.Context)
	providerContext["is_iteration"] = true
	providerContext["generation_id"] = input.GenerationID

	changes, err := e.providers.GenerateCode(ctx, contextPrompt, schema, providerContext, busSink{bus: e.bus, generationID: input.GenerationID})
	if err != nil {
		return Result{}, err
	}

	if len(changes) == 0 {
		e.emitNoChanges(input.GenerationID)
		return Result{Files: input.ExistingFiles, Intent: intent}, nil
	}

	e.emit(input.GenerationID, "merging_files", 0.80, fmt.Sprintf("merging %d changed files", len(changes)))
	merged := Merge(input.ExistingFiles, changes, intent)

	if len(merged) == 0 {
		return Result{}, orcherr.New(orcherr.IterationProducedEmpty, "iteration.Engine", "iteration produced no files")
	}

	if dataLossTriggered(len(input.ExistingFiles), len(merged), intent) {
		e.emitDataLossWarning(input.GenerationID, len(input.ExistingFiles), len(merged))
		if !e.cfg.AllowDataLossWarningOnly {
			return Result{}, orcherr.New(orcherr.DataLossDetected, "iteration.Engine",
				fmt.Sprintf("result has %d files, parent had %d", len(merged), len(input.ExistingFiles)))
		}
	}

	added, removed := diffPaths(input.ExistingFiles, merged)

	e.emit(input.GenerationID, "iteration_complete", 1.00, fmt.Sprintf("iteration complete: %d files", len(merged)))

	return Result{Files: merged, Intent: intent, Added: added, Removed: removed}, nil
}

func (e *Engine) emit(generationID, stage string, progress float64, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(generationID, stage, progress, message))
}

func (e *Engine) emitWithIntent(generationID string, intent Intent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(generationID, "intent_detection", 0.10, "detected intent: "+string(intent)))
}

// emitNoChanges publishes the §8 boundary-case event for an iteration whose
// provider returned an empty change set: the generation still completes
// successfully with the parent's files untouched, but the stage is
// "no_changes" rather than "iteration_complete" so callers can distinguish
// a no-op iteration from one that actually produced edits.
func (e *Engine) emitNoChanges(generationID string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		GenerationID: generationID,
		Status:       events.StatusCompleted,
		Stage:        "no_changes",
		Progress:     1.0,
		Message:      "provider returned no changes; existing files unchanged",
		Timestamp:    time.Now(),
	})
}

func (e *Engine) emitDataLossWarning(generationID string, before, after int) {
	if e.bus == nil {
		return
	}
	msg := fmt.Sprintf("result has %d files, parent had %d", after, before)
	e.bus.Publish(events.New(generationID, "validation", 0.80, msg).WithWarning(events.WarningDataLossDetection))
}

func cloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// busSink adapts provider.EventSink to the EventBus, relaying a provider's
// own progress notifications onto the same generation stream the engine
// publishes its own milestones to.
type busSink struct {
	bus          *events.Bus
	generationID string
}

func (s busSink) Emit(stage string, progress float64, message string, phase *provider.PhaseInfo) {
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

// dataLossTriggered reports whether a post-merge file count represents
// accidental data loss (§4.9). Under the union merge formula a correct
// add/modify merge can never shrink below existingCount, so in practice
// this only fires if Merge itself regresses to something other than a
// superset — it is a defensive invariant check, not a commonly-hit path.
func dataLossTriggered(existingCount, mergedCount int, intent Intent) bool {
	if intent == IntentRemove {
		return false
	}
	return mergedCount < int(float64(existingCount)*dataLossThreshold)
}

func diffPaths(before, after provider.Files) (added, removed []string) {
	for p := range after {
		if _, ok := before[p]; !ok {
			added = append(added, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			removed = append(removed, p)
		}
	}
	return
}
