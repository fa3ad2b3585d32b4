package iteration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genforge-dev/genforge/pkg/provider"
)

func TestMerge_AddUnionsAndOverwritesOnCollision(t *testing.T) {
	existing := provider.Files{"a.go": "old", "b.go": "keep"}
	changes := provider.Files{"a.go": "new", "c.go": "added"}

	result := Merge(existing, changes, IntentAdd)
	assert.Equal(t, "new", result["a.go"])
	assert.Equal(t, "keep", result["b.go"])
	assert.Equal(t, "added", result["c.go"])
}

func TestMerge_RemoveDeletesKeyedPaths(t *testing.T) {
	existing := provider.Files{"a.go": "x", "b.go": "y", "c.go": "z"}
	changes := provider.Files{"b.go": ""}

	result := Merge(existing, changes, IntentRemove)
	assert.Len(t, result, 2)
	_, hasB := result["b.go"]
	assert.False(t, hasB)
}

func TestMerge_UnrecognizedIntentFallsBackToModify(t *testing.T) {
	existing := provider.Files{"a.go": "old"}
	changes := provider.Files{"a.go": "new"}

	result := Merge(existing, changes, Intent("unknown"))
	assert.Equal(t, "new", result["a.go"])
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := provider.Files{"a.go": "old"}
	changes := provider.Files{"a.go": "new"}

	_ = Merge(existing, changes, IntentModify)
	assert.Equal(t, "old", existing["a.go"])
}
