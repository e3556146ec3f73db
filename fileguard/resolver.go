package fileguard

import (
	"path/filepath"
	"strings"
)

// DefaultResolver joins requested onto root, cleans the result, and
// rejects any path that escapes root after symlink resolution. It is the
// reference PathResolver; deployments with more specific filesystem
// semantics (chroot, FUSE overlays) may supply their own.
func DefaultResolver(root, requested string) (string, error) {
	joined := filepath.Join(root, requested)
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	cleanJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if cleanJoined != cleanRoot && !strings.HasPrefix(cleanJoined, cleanRoot+string(filepath.Separator)) {
		return "", errEscapesRoot
	}

	resolved, err := filepath.EvalSymlinks(cleanJoined)
	if err != nil {
		// Path does not exist yet (e.g. a create operation): fall back to
		// the cleaned, unresolved form rather than failing the lookup.
		return cleanJoined, nil
	}
	resolvedRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		resolvedRoot = cleanRoot
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return "", errEscapesRoot
	}
	return resolved, nil
}

type pathError string

func (e pathError) Error() string { return string(e) }

const errEscapesRoot = pathError("fileguard: resolved path escapes root")
