package mediaroot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/bitflow/internal/mediaerr"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "media")
	if err := os.MkdirAll(filepath.Join(root, "music", "albums"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "music", "song.mp3"), []byte("id3"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, base
}

func TestNewRequiresExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(dir, "file")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := New(file); err == nil {
		t.Error("expected error for file root")
	}

	if _, err := New("  "); err == nil {
		t.Error("expected error for blank root")
	}
}

func TestResolveRoot(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, in := range []string{"/", "", "   "} {
		p, err := r.Resolve(in)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", in, err)
		}
		if p.String() != r.Root() {
			t.Errorf("Resolve(%q) = %s, want root %s", in, p.String(), r.Root())
		}
		if p.Logical() != "/" || p.Name() != "/" {
			t.Errorf("Resolve(%q): logical %q name %q", in, p.Logical(), p.Name())
		}
	}
}

func TestResolveNormalizes(t *testing.T) {
	r, _ := newTestResolver(t)

	p, err := r.Resolve("music/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Logical() != "/music" {
		t.Errorf("expected /music, got %s", p.Logical())
	}
	if p.String() != filepath.Join(r.Root(), "music") {
		t.Errorf("unexpected physical path %s", p.String())
	}
	if p.Name() != "music" {
		t.Errorf("expected name music, got %s", p.Name())
	}
}

func TestResolveMissingTarget(t *testing.T) {
	r, _ := newTestResolver(t)

	p, err := r.Resolve("/music/not/yet/there.mp3")
	if err != nil {
		t.Fatalf("missing targets should resolve: %v", err)
	}
	if p.String() != filepath.Join(r.Root(), "music", "not", "yet", "there.mp3") {
		t.Errorf("unexpected physical path %s", p.String())
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, in := range []string{
		"/../../etc",
		"../etc/passwd",
		"/music/../../media2",
		"/music/../../../../../../etc/passwd",
		"/..",
	} {
		p, err := r.Resolve(in)
		if err == nil {
			if !r.Contains(p.String()) {
				t.Errorf("Resolve(%q) escaped the root: %s", in, p.String())
			}
			continue
		}
		if mediaerr.KindOf(err) != mediaerr.InvalidPath {
			t.Errorf("Resolve(%q): expected InvalidPath, got %v", in, err)
		}
	}

	if _, err := r.Resolve("/../../etc"); mediaerr.KindOf(err) != mediaerr.InvalidPath {
		t.Errorf("expected InvalidPath for /../../etc, got %v", err)
	}
}

func TestResolveInnerDotDotStaysInside(t *testing.T) {
	r, _ := newTestResolver(t)

	p, err := r.Resolve("/music/albums/../song.mp3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.String() != filepath.Join(r.Root(), "music", "song.mp3") {
		t.Errorf("unexpected physical path %s", p.String())
	}
}

func TestResolveRejectsSiblingWithSharedPrefix(t *testing.T) {
	r, base := newTestResolver(t)

	sibling := filepath.Join(base, "media2")
	if err := os.MkdirAll(sibling, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(sibling, filepath.Join(r.Root(), "evil")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := r.Resolve("/evil"); mediaerr.KindOf(err) != mediaerr.InvalidPath {
		t.Errorf("expected InvalidPath for symlink into sibling, got %v", err)
	}
	if _, err := r.Resolve("/evil/x"); mediaerr.KindOf(err) != mediaerr.InvalidPath {
		t.Errorf("expected InvalidPath for path below symlink into sibling, got %v", err)
	}
	if r.Contains(filepath.Join(base, "media2", "x")) {
		t.Error("sibling sharing a name prefix must not be contained")
	}
}

func TestResolveRejectsDanglingSymlinkEscape(t *testing.T) {
	r, base := newTestResolver(t)

	target := filepath.Join(base, "outside", "later")
	if err := os.Symlink(target, filepath.Join(r.Root(), "dangling")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := r.Resolve("/dangling"); mediaerr.KindOf(err) != mediaerr.InvalidPath {
		t.Errorf("expected InvalidPath for dangling symlink escape, got %v", err)
	}
}

func TestResolveFollowsInternalSymlink(t *testing.T) {
	r, _ := newTestResolver(t)

	if err := os.Symlink(filepath.Join(r.Root(), "music"), filepath.Join(r.Root(), "favourites")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	p, err := r.Resolve("/favourites/song.mp3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.String() != filepath.Join(r.Root(), "music", "song.mp3") {
		t.Errorf("expected symlink to be evaluated, got %s", p.String())
	}
	if p.Logical() != "/favourites/song.mp3" {
		t.Errorf("logical path should be preserved, got %s", p.Logical())
	}
}

func TestResolveRejectsNUL(t *testing.T) {
	r, _ := newTestResolver(t)
	if _, err := r.Resolve("/music/\x00song.mp3"); mediaerr.KindOf(err) != mediaerr.InvalidPath {
		t.Errorf("expected InvalidPath, got %v", err)
	}
}

func TestResolveErrorMessageHidesRoot(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve("/../../etc")
	if strings.Contains(mediaerr.Message(err), r.Root()) {
		t.Errorf("message leaks media root: %s", mediaerr.Message(err))
	}
}

func TestNormalizeAndChild(t *testing.T) {
	tests := map[string]string{
		"":         "/",
		"/":        "/",
		"music":    "/music",
		"/music/":  "/music",
		" /music ": "/music",
		"/a/b/c":   "/a/b/c",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}

	if got := Child("/", "a"); got != "/a" {
		t.Errorf("Child at root = %q", got)
	}
	if got := Child("/music", "a.mp3"); got != "/music/a.mp3" {
		t.Errorf("Child = %q", got)
	}
}
