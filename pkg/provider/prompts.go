package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// schemaExtractionPrompt builds the instruction sent to a backend's raw text
// completion for ExtractSchema. strict adds a reminder used on the
// MalformedOutput retry (§5).
func schemaExtractionPrompt(prompt string, genCtx map[string]any, strict bool) string {
	var b strings.Builder
	b.WriteString("You are extracting a backend project schema from a feature request.\n")
	b.WriteString("Request:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nRespond with a single JSON object only, matching this shape exactly:\n")
	b.WriteString(`{"entities":[{"name":"","fields":[{"name":"","type":"","constraints":[]}],"relations":[{"target":"","kind":""}]}],"endpoints":[{"method":"","path":"","entity":""}],"constraints":[]}`)
	b.WriteString("\n\nIf the request is too vague to infer entities, return the same shape with empty arrays.")
	if techStack, ok := genCtx["tech_stack"].(string); ok && techStack != "" {
		fmt.Fprintf(&b, "\nTarget tech stack: %s.", techStack)
	}
	if strict {
		b.WriteString("\n\nIMPORTANT: your previous response could not be parsed as JSON. Return ONLY the JSON object, no prose, no markdown code fences.")
	}
	return b.String()
}

// codeGenerationPrompt builds the instruction for GenerateCode.
func codeGenerationPrompt(prompt string, schema Schema, genCtx map[string]any, strict bool) string {
	var b strings.Builder
	isIteration, _ := genCtx["is_iteration"].(bool)
	if isIteration {
		b.WriteString("You are applying a targeted change to an existing backend project.\n")
	} else {
		b.WriteString("You are generating a complete backend project.\n")
	}
	b.WriteString("Instructions:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nSchema:\n")
	schemaJSON, _ := json.Marshal(schema)
	b.Write(schemaJSON)
	b.WriteString("\n\nRespond with a single JSON object mapping relative file path to full UTF-8 file content.")
	if isIteration {
		b.WriteString(" Return ONLY files that are new or changed; omit anything unchanged.")
	}
	if strict {
		b.WriteString("\n\nIMPORTANT: your previous response could not be parsed as JSON. Return ONLY the JSON object, no prose, no markdown code fences.")
	}
	return b.String()
}

// reviewPrompt builds the instruction for ReviewCode.
func reviewPrompt(files Files) string {
	var b strings.Builder
	b.WriteString("Review the following generated project files for correctness and obvious issues.\n")
	b.WriteString("Files:\n")
	for path := range files {
		fmt.Fprintf(&b, "- %s\n", path)
	}
	b.WriteString("\nRespond with a single JSON object: ")
	b.WriteString(`{"issues":[{"severity":"info|warn|error","path":"","message":""}]}`)
	b.WriteString("\nIf there are no issues, return an empty issues array.")
	return b.String()
}

// documentationPrompt builds the instruction for GenerateDocumentation.
func documentationPrompt(files Files, schema Schema) string {
	var b strings.Builder
	b.WriteString("Generate documentation for the following project.\n")
	fmt.Fprintf(&b, "File count: %d\n", len(files))
	schemaJSON, _ := json.Marshal(schema)
	b.WriteString("Schema:\n")
	b.Write(schemaJSON)
	b.WriteString("\n\nRespond with a single JSON object mapping documentation file path (e.g. README.md) to its full content.")
	return b.String()
}

// extractJSONObject pulls the first top-level JSON object out of raw model
// output, tolerating a leading/trailing markdown code fence the way real
// backends often wrap JSON despite instructions not to.
func extractJSONObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// parseSchema parses raw model output into a Schema, classifying parse
// failure as MalformedOutput.
func parseSchema(raw, backend string) (Schema, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return Schema{}, orcherr.New(orcherr.MalformedOutput, backend, "no JSON object in schema response")
	}
	var s Schema
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return Schema{}, orcherr.Wrap(orcherr.MalformedOutput, backend, "parse schema JSON", err)
	}
	return s, nil
}

// parseFiles parses raw model output into a Files map.
func parseFiles(raw, backend string) (Files, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, orcherr.New(orcherr.MalformedOutput, backend, "no JSON object in files response")
	}
	var f Files
	if err := json.Unmarshal([]byte(obj), &f); err != nil {
		return nil, orcherr.Wrap(orcherr.MalformedOutput, backend, "parse files JSON", err)
	}
	if len(f) == 0 {
		return nil, orcherr.New(orcherr.MalformedOutput, backend, "empty files response")
	}
	return f, nil
}

// parseReview parses raw model output into a ReviewReport. Unlike schema and
// files, a review must tolerate any input without failing (§4.1), so a
// malformed response degrades to an empty report rather than an error.
func parseReview(raw string) ReviewReport {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return ReviewReport{}
	}
	var r ReviewReport
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return ReviewReport{}
	}
	return r
}

// parseDocFiles parses raw model output into a DocFiles map.
func parseDocFiles(raw, backend string) (DocFiles, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, orcherr.New(orcherr.MalformedOutput, backend, "no JSON object in documentation response")
	}
	var d DocFiles
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return nil, orcherr.Wrap(orcherr.MalformedOutput, backend, "parse documentation JSON", err)
	}
	return d, nil
}

// EstimateTokens gives a rough 4-characters-per-token estimate, matching the
// teacher's CountTokens fallback used across every backend.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}
