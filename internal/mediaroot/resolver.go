// Package mediaroot maps client-visible logical paths onto physical paths
// inside the configured media root.
package mediaroot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/bitflow/internal/mediaerr"
)

// maxLinkHops bounds symlink expansion of not-yet-existing paths.
const maxLinkHops = 255

// PhysicalPath is a resolved filesystem path that lies inside the media
// root. The zero value is invalid; values are only produced by Resolver.
type PhysicalPath struct {
	path    string
	logical string
}

// String returns the filesystem path.
func (p PhysicalPath) String() string { return p.path }

// Logical returns the normalized logical path p was resolved from.
func (p PhysicalPath) Logical() string { return p.logical }

// Name returns the last element of the logical path, or "/" for the root.
func (p PhysicalPath) Name() string {
	if p.logical == "/" {
		return "/"
	}
	return filepath.Base(p.path)
}

// IsZero reports whether p was not produced by a Resolver.
func (p PhysicalPath) IsZero() bool { return p.path == "" }

// Resolver resolves logical paths against a single media root.
type Resolver struct {
	root string
}

// New resolves root strictly: it must exist and be a directory. Symlinks in
// root are evaluated once here so containment checks compare real paths.
func New(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("media root is not set")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("media root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("media root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root %q is not a directory", root)
	}
	return &Resolver{root: resolved}, nil
}

// Root returns the resolved media root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps logical onto a physical path inside the root. The target
// does not need to exist. Paths that resolve outside the root, through
// ".." segments or symlinks, fail with mediaerr.InvalidPath.
func (r *Resolver) Resolve(logical string) (PhysicalPath, error) {
	norm := Normalize(logical)
	if strings.ContainsRune(norm, 0) {
		return PhysicalPath{}, mediaerr.New(mediaerr.InvalidPath, "invalid path")
	}

	joined := filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(norm, "/")))
	resolved, err := resolveLenient(joined)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return PhysicalPath{}, mediaerr.Wrap(mediaerr.PermissionDenied, "permission denied: "+norm, err)
		}
		return PhysicalPath{}, mediaerr.Wrap(mediaerr.InvalidPath, "invalid path: "+norm, err)
	}
	if !r.Contains(resolved) {
		return PhysicalPath{}, mediaerr.New(mediaerr.InvalidPath, "invalid path: outside the media root")
	}
	return PhysicalPath{path: resolved, logical: norm}, nil
}

// Contains reports whether path is the root or a descendant of it,
// comparing whole path segments.
func (r *Resolver) Contains(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// Normalize returns the canonical logical form of p: blank becomes "/",
// a leading slash is ensured and a single trailing slash is removed.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// Child returns the logical path of name inside the logical directory parent.
func Child(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// resolveLenient evaluates symlinks in the longest existing prefix of p
// and appends the missing remainder. Dangling symlinks are followed
// textually so their eventual target is still subject to containment.
func resolveLenient(p string) (string, error) {
	var missing []string
	cur := p
	for hops := 0; hops <= maxLinkHops; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", err
		}

		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			hops++
			continue
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
	return "", errors.New("too many levels of symbolic links")
}
