package iteration

import "github.com/genforge-dev/genforge/pkg/provider"

// Merge applies changes onto existing according to intent (§4.9):
//
//   - add/modify: union, with changes overwriting on key collision.
//   - remove: changes' keys name paths to delete; result = existing minus
//     those keys.
//   - any other/unrecognized intent falls back to modify behavior.
func Merge(existing, changes provider.Files, intent Intent) provider.Files {
	switch intent {
	case IntentRemove:
		result := existing.Clone()
		for path := range changes {
			delete(result, path)
		}
		return result
	case IntentAdd, IntentModify:
		return mergeUnion(existing, changes)
	default:
		return mergeUnion(existing, changes)
	}
}

func mergeUnion(existing, changes provider.Files) provider.Files {
	result := existing.Clone()
	for path, content := range changes {
		result[path] = content
	}
	return result
}
