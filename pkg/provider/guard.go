package provider

import (
	"context"
	"fmt"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// guardedPort wraps a backend Port with a per-backend CircuitBreaker: once
// repeated failures trip the breaker, calls fail fast with
// ProviderUnavailable instead of hammering a backend that is clearly down,
// until the recovery timeout lets a half-open probe through. Generalizes
// the teacher's pkg/agent.CircuitBreaker from per-coding-loop health
// tracking to per-provider-backend health tracking.
type guardedPort struct {
	inner   Port
	backend BackendName
	breaker *CircuitBreaker
}

func newGuardedPort(inner Port, backend BackendName, breaker *CircuitBreaker) *guardedPort {
	return &guardedPort{inner: inner, backend: backend, breaker: breaker}
}

func (g *guardedPort) tripped() error {
	return orcherr.New(orcherr.ProviderUnavailable, "provider.guardedPort",
		fmt.Sprintf("circuit breaker open for backend %s", g.backend))
}

func (g *guardedPort) ExtractSchema(ctx context.Context, prompt string, genCtx map[string]any) (Schema, error) {
	if !g.breaker.Allow() {
		return Schema{}, g.tripped()
	}
	schema, err := g.inner.ExtractSchema(ctx, prompt, genCtx)
	g.breaker.RecordResult(err)
	return schema, err
}

func (g *guardedPort) GenerateCode(ctx context.Context, prompt string, schema Schema, genCtx map[string]any, sink EventSink) (Files, error) {
	if !g.breaker.Allow() {
		return nil, g.tripped()
	}
	files, err := g.inner.GenerateCode(ctx, prompt, schema, genCtx, sink)
	g.breaker.RecordResult(err)
	return files, err
}

func (g *guardedPort) ReviewCode(ctx context.Context, files Files) (ReviewReport, error) {
	if !g.breaker.Allow() {
		return ReviewReport{}, g.tripped()
	}
	report, err := g.inner.ReviewCode(ctx, files)
	g.breaker.RecordResult(err)
	return report, err
}

func (g *guardedPort) GenerateDocumentation(ctx context.Context, files Files, schema Schema, genCtx map[string]any) (DocFiles, error) {
	if !g.breaker.Allow() {
		return nil, g.tripped()
	}
	docs, err := g.inner.GenerateDocumentation(ctx, files, schema, genCtx)
	g.breaker.RecordResult(err)
	return docs, err
}

func (g *guardedPort) Info() Info {
	return g.inner.Info()
}
