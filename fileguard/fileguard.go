// Package fileguard adapts the kernel's authorize pipeline to filesystem
// resources: it builds the arbor://fs/<op>/<path> URI, resolves the
// caller's path against a caller-supplied root directory in a
// symlink- and traversal-safe way, and enforces the capability's
// pattern/exclude/max_depth constraints.
package fileguard

import (
	"path"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

// PathResolver resolves a caller-supplied path against root, rejecting
// any result that escapes root (symlink traversal, "..", etc). Callers
// supply the concrete implementation since the safe-resolution strategy
// is platform- and deployment-specific.
type PathResolver func(root, requested string) (resolved string, err error)

// CapabilityFinder looks up the best authorizing capability for a
// principal and resource URI — ordinarily capability.Store.FindAuthorizing,
// injected here so fileguard stays decoupled from the store's concrete type.
type CapabilityFinder func(principalID, resourceURI string) (capability.Capability, error)

// FileGuard wires an operation-to-URI mapping and an authorizing
// capability lookup onto a caller-supplied safe path resolver.
type FileGuard struct {
	Find    CapabilityFinder
	Resolve PathResolver
}

// BuildURI constructs the arbor://fs/<op>/<path> resource URI for a
// filesystem operation, stripping any leading slash from path so the
// grammar's mandatory separator rule stays well-formed.
func BuildURI(op, requestedPath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+requestedPath), "/")
	return "arbor://fs/" + op + "/" + clean
}

// Authorize finds the capability authorizing agent's op on path, resolves
// path against root (supplied by the caller; the capability's resource
// URI is not used to derive it), and enforces any glob/exclude/max_depth
// constraints. Returns the resolved, safe filesystem path.
func (g *FileGuard) Authorize(agentID, requestedPath, op, root string) (string, error) {
	uri := BuildURI(op, requestedPath)
	cap, err := g.Find(agentID, uri)
	if err != nil {
		return "", err
	}

	resolved, err := g.Resolve(root, requestedPath)
	if err != nil {
		return "", &kernelerr.InvalidPath{Inner: err}
	}
	if !withinRoot(root, resolved) {
		return "", kernelerr.ErrPathTraversal
	}

	if err := enforcePatternConstraints(cap.Constraints, resolved, root); err != nil {
		return "", err
	}
	return resolved, nil
}

func withinRoot(root, resolved string) bool {
	root = path.Clean(root)
	resolved = path.Clean(resolved)
	return resolved == root || strings.HasPrefix(resolved, root+"/")
}

func enforcePatternConstraints(constraints map[string]any, resolved, root string) error {
	base := path.Base(resolved)

	if raw, ok := constraints["patterns"]; ok {
		patterns := toStringSlice(raw)
		if len(patterns) > 0 && !matchesAny(patterns, base) {
			return kernelerr.ErrPatternMismatch
		}
	}
	if raw, ok := constraints["exclude"]; ok {
		excludes := toStringSlice(raw)
		if matchesAny(excludes, base) {
			return kernelerr.ErrExcludedPattern
		}
	}
	if raw, ok := constraints["max_depth"]; ok {
		maxDepth, ok := toInt(raw)
		if ok && depth(root, resolved) > maxDepth {
			return kernelerr.ErrMaxDepthExceeded
		}
	}
	return nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if glob.Glob(p, name) {
			return true
		}
	}
	return false
}

func depth(root, resolved string) int {
	root = strings.Trim(path.Clean(root), "/")
	resolved = strings.Trim(path.Clean(resolved), "/")
	rel := strings.TrimPrefix(resolved, root)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func toStringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
