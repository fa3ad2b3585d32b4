package iteration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genforge-dev/genforge/pkg/provider"
)

func TestBuildContextPrompt_ContainsHeaderAndIntent(t *testing.T) {
	files := provider.Files{"main.py": "print('hi')\n"}
	prompt := BuildContextPrompt(files, "fix the bug", IntentModify)

	assert.Contains(t, prompt, "ITERATION REQUEST")
	assert.Contains(t, prompt, "File count: 1")
	assert.Contains(t, prompt, "Detected intent: modify")
	assert.Contains(t, prompt, "fix the bug")
}

func TestBuildContextPrompt_TruncatesLongKeyFiles(t *testing.T) {
	long := strings.Repeat("x", keyFileExcerptMaxChars+500)
	files := provider.Files{"main.py": long}
	prompt := BuildContextPrompt(files, "update main", IntentModify)

	assert.Contains(t, prompt, truncationMarker)
	assert.NotContains(t, prompt, strings.Repeat("x", keyFileExcerptMaxChars+1))
}

func TestSelectKeyFiles_RespectsBudgetAndPriority(t *testing.T) {
	files := provider.Files{
		"main.py":          "a",
		"app.py":           "b",
		"config.py":        "c",
		"models/user.py":   "d",
		"models/order.py":  "e",
		"schemas/base.py":  "f",
		"routers/users.py": "g",
		"unrelated.py":     "h",
	}
	selected := selectKeyFiles(files)
	assert.LessOrEqual(t, len(selected), keyFileBudget)
	assert.NotContains(t, selected, "unrelated.py")
}

func TestRenderFileTree_DirectoriesBeforeLeaves(t *testing.T) {
	files := provider.Files{
		"main.py":        "x",
		"models/user.py": "y",
	}
	tree := renderFileTree(files)
	dirIdx := strings.Index(tree, "models/")
	leafIdx := strings.Index(tree, "main.py")
	assert.True(t, dirIdx >= 0 && leafIdx >= 0)
	assert.Less(t, dirIdx, leafIdx)
}
