package fileguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

func TestBuildURIStripsLeadingSlash(t *testing.T) {
	got := BuildURI("read", "/home/x.txt")
	if got != "arbor://fs/read/home/x.txt" {
		t.Fatalf("got %q", got)
	}
}

func staticFinder(cap capability.Capability, err error) CapabilityFinder {
	return func(string, string) (capability.Capability, error) { return cap, err }
}

func TestAuthorizeResolvesWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "doc.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	g := &FileGuard{
		Find:    staticFinder(capability.Capability{ResourceURI: "arbor://fs/read/" + filepath.Base(root)}, nil),
		Resolve: DefaultResolver,
	}
	resolved, err := g.Authorize("agent_1", "doc.txt", "read", root)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if filepath.Base(resolved) != "doc.txt" {
		t.Fatalf("got %q", resolved)
	}
}

func TestAuthorizeRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	g := &FileGuard{
		Find:    staticFinder(capability.Capability{ResourceURI: "arbor://fs/read/root"}, nil),
		Resolve: DefaultResolver,
	}
	_, err := g.Authorize("agent_1", "../../etc/passwd", "read", root)
	if err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestAuthorizePropagatesCapabilityLookupError(t *testing.T) {
	g := &FileGuard{
		Find:    staticFinder(capability.Capability{}, kernelerr.ErrCapabilityNotFound),
		Resolve: DefaultResolver,
	}
	_, err := g.Authorize("agent_1", "doc.txt", "read", t.TempDir())
	if err != kernelerr.ErrCapabilityNotFound {
		t.Fatalf("got %v", err)
	}
}

func TestEnforcePatternConstraints(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdirall: %v", err)
	}
	target := filepath.Join(sub, "secret.env")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cap := capability.Capability{
		ResourceURI: "arbor://fs/read/root",
		Constraints: map[string]any{
			"exclude": []any{"*.env"},
		},
	}
	g := &FileGuard{Find: staticFinder(cap, nil), Resolve: DefaultResolver}
	if _, err := g.Authorize("agent_1", "a/b/secret.env", "read", root); err != kernelerr.ErrExcludedPattern {
		t.Fatalf("expected ErrExcludedPattern, got %v", err)
	}

	capDepth := capability.Capability{
		ResourceURI: "arbor://fs/read/root",
		Constraints: map[string]any{"max_depth": 1},
	}
	g2 := &FileGuard{Find: staticFinder(capDepth, nil), Resolve: DefaultResolver}
	if _, err := g2.Authorize("agent_1", "a/b/secret.env", "read", root); err != kernelerr.ErrMaxDepthExceeded {
		t.Fatalf("expected ErrMaxDepthExceeded, got %v", err)
	}
}
