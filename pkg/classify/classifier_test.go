package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_EmptyPromptBoundary(t *testing.T) {
	result := Classify("")
	assert.Equal(t, DomainGeneral, result.Domain)
	assert.Equal(t, DefaultTechStack, result.TechStack)
	assert.Equal(t, DefaultSuggestedName, result.SuggestedName)
	assert.Empty(t, result.Entities)
	assert.Zero(t, result.Confidence)
}

func TestClassify_WhitespaceOnlyPromptIsEmptyBoundary(t *testing.T) {
	result := Classify("   \n\t  ")
	assert.Equal(t, DomainGeneral, result.Domain)
	assert.Zero(t, result.Confidence)
}

func TestClassify_EcommerceDomainDetected(t *testing.T) {
	result := Classify("Build a shop with a cart, checkout, and product catalog")
	assert.Equal(t, DomainEcommerce, result.Domain)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestClassify_TaskManagementDomainDetected(t *testing.T) {
	result := Classify("A kanban board for tracking sprint tasks with assignees and deadlines")
	assert.Equal(t, DomainTaskManagement, result.Domain)
}

func TestClassify_TechStackTokensCombine(t *testing.T) {
	result := Classify("An API using fastapi and postgres for storage")
	assert.Contains(t, result.TechStack, "fastapi")
	assert.Contains(t, result.TechStack, "postgres")
}

func TestClassify_DefaultTechStackWhenUnrecognized(t *testing.T) {
	result := Classify("Build something generic with no recognizable stack words")
	assert.Equal(t, DefaultTechStack, result.TechStack)
}

func TestClassify_QuotedNameTakesPriorityOverDomain(t *testing.T) {
	result := Classify(`Build a shop called "Acme Store" with a cart and checkout`)
	assert.Equal(t, "Acme Store", result.SuggestedName)
}

func TestClassify_EntitiesExtractedFromWithClause(t *testing.T) {
	result := Classify("Build a blog with posts, comments, and authors")
	assert.ElementsMatch(t, []string{"Posts", "Comments", "Authors"}, result.Entities)
}

func TestClassify_NoWithClauseYieldsEmptyEntities(t *testing.T) {
	result := Classify("Build a task tracker")
	assert.Empty(t, result.Entities)
}

func TestClassify_UnclassifiableDomainFallsBackToGeneral(t *testing.T) {
	result := Classify("xyzzy plugh frotz")
	assert.Equal(t, DomainGeneral, result.Domain)
	assert.Equal(t, DefaultSuggestedName, result.SuggestedName)
}
