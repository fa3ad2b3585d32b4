package iteration

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/genforge-dev/genforge/internal/textutil"
	"github.com/genforge-dev/genforge/pkg/provider"
)

var classNamePattern = regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)
var routeDecoratorPattern = regexp.MustCompile(`@\w+\.(?:get|post|put|patch|delete)\(\s*["']([^"']+)["']`)
var routerPathPattern = regexp.MustCompile(`(?m)^\s*(?:router|app)\.(?:get|post|put|patch|delete)\(\s*["']([^"']+)["']`)

// SchemaFromFiles derives a Schema deterministically by scanning the
// existing files' paths and well-known fragments — model class names under
// models/, route paths under routers/ — never by calling the LLM, so an
// iteration does not depend on re-parsing the whole project (§4.9).
func SchemaFromFiles(files provider.Files) provider.Schema {
	entityNames := make(map[string]bool)
	var endpoints []provider.Endpoint

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		content := files[p]
		base := path.Base(p)

		if isUnderDir(p, "models") || isUnderDir(p, "schemas") {
			matches := classNamePattern.FindAllStringSubmatch(content, -1)
			if len(matches) > 0 {
				for _, m := range matches {
					entityNames[m[1]] = true
				}
			} else {
				// fall back to the file's base name as a naive entity name.
				name := strings.TrimSuffix(base, path.Ext(base))
				if name != "" && name != "__init__" && name != "index" {
					entityNames[textutil.Title(name)] = true
				}
			}
		}

		if isUnderDir(p, "routers") || isUnderDir(p, "routes") {
			for _, m := range routeDecoratorPattern.FindAllStringSubmatch(content, -1) {
				endpoints = append(endpoints, provider.Endpoint{Method: "GET", Path: m[1]})
			}
			for _, m := range routerPathPattern.FindAllStringSubmatch(content, -1) {
				endpoints = append(endpoints, provider.Endpoint{Method: "GET", Path: m[1]})
			}
		}
	}

	names := make([]string, 0, len(entityNames))
	for n := range entityNames {
		names = append(names, n)
	}
	sort.Strings(names)

	entities := make([]provider.Entity, 0, len(names))
	for _, n := range names {
		entities = append(entities, provider.Entity{Name: n})
	}

	return provider.Schema{Entities: entities, Endpoints: endpoints}
}

func isUnderDir(p, dir string) bool {
	prefix := dir + "/"
	return strings.Contains(p, "/"+prefix) || strings.HasPrefix(p, prefix)
}
