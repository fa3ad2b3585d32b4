package iteration

import (
	"sort"
	"strings"

	"github.com/genforge-dev/genforge/internal/textutil"
	"github.com/genforge-dev/genforge/pkg/provider"
)

// keyFileBudget is K from §4.9: the maximum number of excerpted key files.
const keyFileBudget = 5

// keyFileExcerptMaxChars is the per-file truncation limit for key-file
// excerpts (§4.9).
const keyFileExcerptMaxChars = 4000

const truncationMarker = "\n... [truncated]"

// keyFilePatterns are checked in priority order; a path matches if it
// contains any of these fragments.
var keyFilePatterns = []string{"main", "app", "config", "models/", "schemas/", "routers/"}

// BuildContextPrompt assembles the "ITERATION REQUEST" prompt (§4.9): a
// header with file count, a visual file tree, up to keyFileBudget key-file
// excerpts, the original modification prompt, and the detected intent.
func BuildContextPrompt(existing provider.Files, modificationPrompt string, intent Intent) string {
	b := &textutil.Builder{}

	b.WriteLine("ITERATION REQUEST")
	b.WriteLine("")
	b.WriteLine("File count: " + itoa(len(existing)))
	b.WriteLine("")
	b.WriteLine("File tree:")
	b.WriteString(renderFileTree(existing))
	b.WriteLine("")

	keyFiles := selectKeyFiles(existing)
	if len(keyFiles) > 0 {
		b.WriteLine("Key files:")
		for _, path := range keyFiles {
			b.WriteLine("--- " + path + " ---")
			b.WriteLine(textutil.Truncate(existing[path], keyFileExcerptMaxChars, truncationMarker))
		}
		b.WriteLine("")
	}

	b.WriteLine("User request:")
	b.WriteLine(modificationPrompt)
	b.WriteLine("")
	b.WriteLine("Detected intent: " + string(intent))
	b.WriteLine("")
	b.WriteLine("This is an iteration; return ONLY files to add/modify, or (for remove) a sentinel list of paths to remove.")

	return b.String()
}

// selectKeyFiles returns up to keyFileBudget paths matching keyFilePatterns,
// in pattern priority order, then lexically within a pattern.
func selectKeyFiles(existing provider.Files) []string {
	paths := make([]string, 0, len(existing))
	for p := range existing {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	seen := make(map[string]bool)
	var selected []string
	for _, pattern := range keyFilePatterns {
		for _, p := range paths {
			if len(selected) >= keyFileBudget {
				return selected
			}
			if seen[p] {
				continue
			}
			if strings.Contains(p, pattern) {
				selected = append(selected, p)
				seen[p] = true
			}
		}
	}
	return selected
}

// renderFileTree renders a visual UTF-8 tree of paths, directories sorted
// before and printed ahead of leaves at each level.
func renderFileTree(files provider.Files) string {
	type node struct {
		name     string
		children map[string]*node
		isLeaf   bool
	}
	root := &node{children: map[string]*node{}}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		parts := strings.Split(p, "/")
		cur := root
		for i, part := range parts {
			child, ok := cur.children[part]
			if !ok {
				child = &node{name: part, children: map[string]*node{}}
				cur.children[part] = child
			}
			if i == len(parts)-1 {
				child.isLeaf = true
			}
			cur = child
		}
	}

	var b strings.Builder
	var render func(n *node, prefix string)
	render = func(n *node, prefix string) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			ci, cj := n.children[names[i]], n.children[names[j]]
			if ci.isLeaf != cj.isLeaf {
				return !ci.isLeaf // directories first
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			child := n.children[name]
			b.WriteString(prefix + name)
			if !child.isLeaf {
				b.WriteString("/")
			}
			b.WriteString("\n")
			render(child, prefix+"  ")
		}
	}
	render(root, "")
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
