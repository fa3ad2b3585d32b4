package pipeline

import (
	"fmt"
	"strings"

	"github.com/genforge-dev/genforge/pkg/provider"
)

// strictReminder is appended to a phase prompt on the malformed-output
// retry (§4.3 edge cases): a stricter instruction, not a different request.
const strictReminder = "\n\nIMPORTANT: respond with a well-formed file map only. Do not include commentary, markdown fences around the whole response, or partial files."

func buildCorePrompt(schema provider.Schema, ctx map[string]any) string {
	var b strings.Builder
	b.WriteString("Generate the core infrastructure for this backend project: framework bootstrap, configuration loading, database connection wiring, and shared base utilities.\n")
	writeContext(&b, ctx)
	writeSchemaSummary(&b, schema)
	return b.String()
}

func buildEntityPrompt(entity provider.Entity, schema provider.Schema, ctx map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the model, repository, service, and route files for the %q entity.\n", entity.Name)
	b.WriteString("Fields:\n")
	for _, f := range entity.Fields {
		fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.Type)
	}
	for _, r := range entity.Relations {
		fmt.Fprintf(&b, "  relation -> %s (%s)\n", r.Target, r.Kind)
	}
	writeContext(&b, ctx)
	return b.String()
}

func buildRouterPrompt(schema provider.Schema, ctx map[string]any) string {
	var b strings.Builder
	b.WriteString("Wire together the top-level application router, aggregating every entity's routes into the application composition root.\n")
	b.WriteString("Entities: ")
	names := make([]string, 0, len(schema.Entities))
	for _, e := range schema.Entities {
		names = append(names, e.Name)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n")
	writeContext(&b, ctx)
	return b.String()
}

func buildUtilityPrompt(ctx map[string]any) string {
	var b strings.Builder
	b.WriteString("Generate auxiliary modules: security/auth helpers, structured logging setup, and an environment variable template.\n")
	writeContext(&b, ctx)
	return b.String()
}

func writeContext(b *strings.Builder, ctx map[string]any) {
	if len(ctx) == 0 {
		return
	}
	b.WriteString("Context:\n")
	for k, v := range ctx {
		fmt.Fprintf(b, "  %s: %v\n", k, v)
	}
}

func writeSchemaSummary(b *strings.Builder, schema provider.Schema) {
	if len(schema.Constraints) == 0 {
		return
	}
	b.WriteString("Constraints:\n")
	for _, c := range schema.Constraints {
		fmt.Fprintf(b, "  - %s\n", c)
	}
}
