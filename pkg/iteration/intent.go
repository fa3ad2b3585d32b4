package iteration

import "strings"

// Intent is the detected modification intent (§4.9).
type Intent string

const (
	IntentAdd    Intent = "add"
	IntentModify Intent = "modify"
	IntentRemove Intent = "remove"
)

var intentKeywords = map[Intent][]string{
	IntentAdd:    {"add", "create", "new", "missing", "include"},
	IntentModify: {"fix", "update", "change", "modify", "refactor", "improve", "replace", "rename"},
	IntentRemove: {"remove", "delete", "drop", "exclude"},
}

// precedence breaks ties when more than one intent's keywords are present:
// remove > modify > add (§4.9).
var precedence = []Intent{IntentRemove, IntentModify, IntentAdd}

// DetectIntent scans a lowercased copy of prompt for intent keywords and
// returns the highest-precedence match. An unrecognized prompt defaults to
// IntentModify, the safe default.
func DetectIntent(prompt string) Intent {
	lower := strings.ToLower(prompt)

	present := make(map[Intent]bool, 3)
	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				present[intent] = true
				break
			}
		}
	}

	for _, intent := range precedence {
		if present[intent] {
			return intent
		}
	}
	return IntentModify
}
