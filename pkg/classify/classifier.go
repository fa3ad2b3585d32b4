// Package classify implements the PromptClassifier (C7): a pure, synchronous
// function that infers a domain, tech stack, suggested project name, and
// entity hints from a natural-language prompt using deterministic keyword
// rules — no LLM call, per §4.7.
package classify

import (
	"sort"
	"strings"

	"github.com/genforge-dev/genforge/internal/textutil"
)

// Result is the classifier's output (§4.7).
type Result struct {
	Domain        Domain   `json:"domain"`
	TechStack     string   `json:"tech_stack"`
	SuggestedName string   `json:"suggested_name"`
	Entities      []string `json:"entities"`
	Confidence    float64  `json:"confidence"`
}

// Classify infers Result from prompt. It never errors: an empty or
// unclassifiable prompt resolves to the documented boundary values
// (domain=general, tech_stack=default, suggested_name="Untitled API",
// entities=[], confidence=0).
func Classify(prompt string) Result {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Result{
			Domain:        DomainGeneral,
			TechStack:     DefaultTechStack,
			SuggestedName: DefaultSuggestedName,
			Entities:      []string{},
			Confidence:    0,
		}
	}

	lower := strings.ToLower(trimmed)

	domain, confidence := classifyDomain(lower)
	techStack := classifyTechStack(lower)
	entities := extractEntities(trimmed)
	name := suggestName(trimmed, domain, entities)

	return Result{
		Domain:        domain,
		TechStack:     techStack,
		SuggestedName: name,
		Entities:      entities,
		Confidence:    confidence,
	}
}

// classifyDomain scores every domain pattern by keyword hit count and
// returns the highest scorer, or DomainGeneral if nothing clears
// domainThreshold. Confidence is the winning score normalized against the
// pattern's own keyword count, capped at 1.0.
func classifyDomain(lower string) (Domain, float64) {
	bestDomain := DomainGeneral
	bestScore := 0
	bestTotal := 1

	for _, pattern := range domainPatterns {
		score := 0
		for _, kw := range pattern.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestDomain = pattern.domain
			bestTotal = len(pattern.keywords)
		}
	}

	if bestScore < domainThreshold {
		return DomainGeneral, 0
	}

	confidence := float64(bestScore) / float64(bestTotal)
	if confidence > 1 {
		confidence = 1
	}
	return bestDomain, confidence
}

// classifyTechStack scans for recognized framework/datastore tokens and
// joins any matches, sorted, with "_". Falls back to DefaultTechStack when nothing
// matches.
func classifyTechStack(lower string) string {
	seen := make(map[string]bool)
	var parts []string
	for token, tag := range techStackTokens {
		if strings.Contains(lower, token) && !seen[tag] {
			seen[tag] = true
			parts = append(parts, tag)
		}
	}
	if len(parts) == 0 {
		return DefaultTechStack
	}
	sort.Strings(parts)
	return strings.Join(parts, "_")
}

// extractEntities looks for an explicit "with X, Y, and Z" list and returns
// the individually-named nouns title-cased. Returns an empty (non-nil)
// slice when no such list is present.
func extractEntities(prompt string) []string {
	lower := strings.ToLower(prompt)
	idx := strings.Index(lower, " with ")
	if idx < 0 {
		return []string{}
	}
	tail := prompt[idx+len(" with "):]
	// stop at sentence end
	if end := strings.IndexAny(tail, ".\n"); end >= 0 {
		tail = tail[:end]
	}
	tail = strings.ReplaceAll(tail, " and ", ", ")
	parts := strings.Split(tail, ",")

	entities := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "an ")
		p = strings.TrimPrefix(p, "a ")
		if p == "" {
			continue
		}
		entities = append(entities, textutil.Title(p))
	}
	return entities
}

// suggestName prefers an explicitly quoted name ("... called \"Foo\" ..."),
// then falls back to a synthesized "<Domain> API" / entity-derived title.
func suggestName(prompt string, domain Domain, entities []string) string {
	if quoted, ok := textutil.QuotedName(prompt); ok {
		return quoted
	}
	if domain != DomainGeneral {
		return textutil.Title(strings.ReplaceAll(string(domain), "_", " ")) + " API"
	}
	if len(entities) > 0 {
		return entities[0] + " API"
	}
	return DefaultSuggestedName
}
