package provider

import (
	"fmt"
	"sync"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// BackendName is one of the concrete backend identifiers a Config may select.
type BackendName string

const (
	BackendGemini      BackendName = "gemini"
	BackendHuggingFace BackendName = "huggingface"
	BackendLocal       BackendName = "local"
)

// Credentials holds the per-backend configuration ProviderRegistry resolves
// by name before constructing an instance.
type Credentials struct {
	APIKey         string
	Endpoint       string
	ModelID        string
	Temperature    float64
	MaxOutputTokens int
	SafetyLevel    string
}

// Config is the ProviderRegistry's configuration surface (§4.2): a default
// backend, optional per-task overrides, and per-backend credentials.
type Config struct {
	DefaultProvider BackendName

	SchemaExtractionProvider BackendName
	CodeGenerationProvider   BackendName
	CodeReviewProvider       BackendName
	DocumentationProvider    BackendName

	Credentials map[BackendName]Credentials
}

// providerFor returns the backend configured for a task, falling back to the
// default when no override is set.
func (c Config) providerFor(task Task) BackendName {
	var override BackendName
	switch task {
	case TaskSchemaExtraction:
		override = c.SchemaExtractionProvider
	case TaskCodeGeneration:
		override = c.CodeGenerationProvider
	case TaskCodeReview:
		override = c.CodeReviewProvider
	case TaskDocumentation:
		override = c.DocumentationProvider
	}
	if override != "" {
		return override
	}
	return c.DefaultProvider
}

// Factory constructs a Port for a given backend name and credentials. Tests
// inject stub factories; production wiring uses NewDefaultFactory.
type Factory func(name BackendName, creds Credentials) (Port, error)

// Registry selects a Port per task from Config, caching instances by
// (backend, task) so repeated Get calls with identical config are idempotent
// and initialization (including credential validation) happens at most once
// per combination — generalizing the teacher's Router model-selection
// pattern from a single provider to a pluggable-backend registry.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	factory  Factory
	cache    map[cacheKey]Port
	breakers map[BackendName]*CircuitBreaker
}

type cacheKey struct {
	backend BackendName
	task    Task
}

// NewRegistry builds a Registry over cfg, using factory to construct
// backends lazily. Every constructed backend is wrapped in a CircuitBreaker
// (§5), one breaker per backend shared across every task it serves, so
// repeated failures on one backend trip it open for all tasks routed to it.
func NewRegistry(cfg Config, factory Factory) *Registry {
	return &Registry{
		cfg:      cfg,
		factory:  factory,
		cache:    make(map[cacheKey]Port),
		breakers: make(map[BackendName]*CircuitBreaker),
	}
}

// breakerFor returns the shared CircuitBreaker for backend, creating it on
// first use. Must be called with r.mu held.
func (r *Registry) breakerFor(backend BackendName) *CircuitBreaker {
	if cb, ok := r.breakers[backend]; ok {
		return cb
	}
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	r.breakers[backend] = cb
	return cb
}

// Get returns the Port configured for task, constructing and validating it
// on first use and returning the cached instance thereafter. Validation
// failure surfaces as ProviderUnavailable.
func (r *Registry) Get(task Task) (Port, error) {
	backend := r.cfg.providerFor(task)
	if backend == "" {
		return nil, orcherr.New(orcherr.InvalidRequest, "provider.Registry", "no default_provider configured")
	}

	key := cacheKey{backend: backend, task: task}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[key]; ok {
		return p, nil
	}

	creds := r.cfg.Credentials[backend]
	p, err := r.factory(backend, creds)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ProviderUnavailable, "provider.Registry",
			fmt.Sprintf("initialize %s for %s", backend, task), err)
	}
	if info := p.Info(); !info.Supports(task) {
		return nil, orcherr.New(orcherr.ProviderUnavailable, "provider.Registry",
			fmt.Sprintf("%s does not support task %s", backend, task))
	}

	guarded := newGuardedPort(p, backend, r.breakerFor(backend))
	r.cache[key] = guarded
	return guarded, nil
}

// Reset drops all cached instances, forcing re-initialization on next Get.
// Used by config hot-reload when credentials or model ids rotate.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[cacheKey]Port)
}

// SetConfig replaces the registry's configuration and clears the cache so
// subsequent Get calls pick up the new credentials/overrides.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.cache = make(map[cacheKey]Port)
}
