package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentcore/internal/domain"
)

// Sandbox confines file tools to a directory tree.
type Sandbox struct {
	root string // absolute, resolved root
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}
	return &Sandbox{root: resolved}, nil
}

// Resolve maps requested to an absolute path inside the root. Relative paths
// are joined to base when base is inside the root, otherwise to the root.
func (s *Sandbox) Resolve(base, requested string) (string, error) {
	if !filepath.IsAbs(requested) {
		dir := s.root
		if base != "" {
			if b, err := s.Resolve("", base); err == nil {
				dir = b
			}
		}
		requested = filepath.Join(dir, requested)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(requested))
	if err != nil {
		// Path doesn't exist yet; validate the parent directory.
		parent, err2 := filepath.EvalSymlinks(filepath.Dir(requested))
		if err2 != nil {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideRoot, err2.Error())
		}
		resolved = filepath.Join(parent, filepath.Base(requested))
	}

	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(os.PathSeparator)) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideRoot,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}
	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }
