// Package provider defines the uniform capability surface over pluggable LLM
// backends (ProviderPort) and the registry that selects and caches instances
// per task (ProviderRegistry).
package provider

import "context"

// Port is the capability set every backend must implement. The pipeline and
// iteration engine talk only to this interface; provider-specific wire
// protocols and error mapping stay behind it.
type Port interface {
	// ExtractSchema infers a project schema from a natural-language prompt.
	// Implementations must return a well-formed, possibly-empty Schema for a
	// vague prompt rather than failing.
	ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error)

	// GenerateCode produces project files for prompt/schema/context. When
	// genCtx["is_iteration"] is true, implementations must treat prompt as
	// instructions against a described project and return only changed
	// files. Progress is reported through sink at meaningful boundaries.
	GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error)

	// ReviewCode lists issues found in files. Must tolerate any input file
	// set, including empty, without failing.
	ReviewCode(ctx context.Context, files Files) (ReviewReport, error)

	// GenerateDocumentation produces documentation files for the given
	// files and schema.
	GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error)

	// Info describes the backend: name, model, and supported tasks.
	Info() Info
}

// EventSink receives progress notifications from a Port during a long-running
// call. Implementations (pkg/events.Bus) translate these into published
// Events; a nil sink must be safe to call.
type EventSink interface {
	Emit(stage string, progress float64, message string, phase *PhaseInfo)
}

// PhaseInfo mirrors the generation event's optional phase_info payload.
type PhaseInfo struct {
	TotalPhases   int    `json:"total_phases,omitempty"`
	CurrentPhase  int    `json:"current_phase,omitempty"`
	Name          string `json:"name,omitempty"`
	FilesGenerated int   `json:"files_generated,omitempty"`
	TotalFiles    int    `json:"total_files,omitempty"`
	EntitiesCount int    `json:"entities_count,omitempty"`
}

// Info describes a provider backend's identity and capabilities.
type Info struct {
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities"`
}

// Supports reports whether the backend advertises a given task capability.
func (i Info) Supports(task Task) bool {
	for _, c := range i.Capabilities {
		if c == string(task) {
			return true
		}
	}
	return false
}

// Task names a per-task provider override slot in ProviderRegistry config.
type Task string

const (
	TaskSchemaExtraction  Task = "schema_extraction"
	TaskCodeGeneration    Task = "code_generation"
	TaskCodeReview        Task = "code_review"
	TaskDocumentation     Task = "documentation"
)

// Files is a relative-path -> UTF-8 text mapping, the common currency between
// GenerateCode, ReviewCode, GenerateDocumentation, and the artifact store.
type Files map[string]string

// Clone returns a shallow copy safe to mutate independently of the original.
func (f Files) Clone() Files {
	out := make(Files, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Schema is the provider-agnostic project schema produced by ExtractSchema
// and consumed by GenerateCode/GenerateDocumentation.
type Schema struct {
	Entities    []Entity `json:"entities"`
	Endpoints   []Endpoint `json:"endpoints"`
	Constraints []string `json:"constraints,omitempty"`
}

// Entity is one schema entity (roughly: one data model).
type Entity struct {
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields"`
	Relations []Relation `json:"relations,omitempty"`
}

// Field is one entity attribute.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Constraints []string `json:"constraints,omitempty"`
}

// Relation links one entity to another.
type Relation struct {
	Target string `json:"target"`
	Kind   string `json:"kind,omitempty"` // e.g. "one_to_many", "many_to_one"
}

// Endpoint is one schema-derived API route.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Entity string `json:"entity,omitempty"`
}

// Empty reports whether the schema carries no entities, endpoints, or
// constraints — the well-formed empty schema ExtractSchema may return for a
// vague prompt.
func (s Schema) Empty() bool {
	return len(s.Entities) == 0 && len(s.Endpoints) == 0 && len(s.Constraints) == 0
}

// ReviewReport is the result of ReviewCode.
type ReviewReport struct {
	Issues []ReviewIssue `json:"issues"`
}

// Severity is a ReviewIssue's severity tag.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ReviewIssue is one finding from ReviewCode.
type ReviewIssue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// DocFiles is a path -> text map of documentation artifacts.
type DocFiles map[string]string
