// Package inspect reads presentable metadata for single filesystem entries.
//
// Inspection never fails: when an entry cannot be read the returned
// metadata carries only its name and an error description, so callers can
// still list the entry.
package inspect

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fruitsalade/bitflow/internal/mediaerr"
	"github.com/fruitsalade/bitflow/pkg/models"
)

// platformInfo holds the attributes that are only available on some
// operating systems.
type platformInfo struct {
	accessed *time.Time
	created  *time.Time
	owner    string
	group    string
	readOnly bool
}

// File inspects a regular file. Only regular files whose extension is
// unknown are opened to sniff their content; pipes and devices are never
// opened.
func File(path string) models.EntryMetadata {
	name := entryName(path)
	info, link, err := stat(path)
	if err != nil {
		return degraded(name, err)
	}

	meta := common(path, name, info, link)
	size := info.Size()
	meta.Size = &size
	meta.Extension = strings.ToLower(filepath.Ext(name))
	meta.FileType = MediaType(detectFile(path, name, info))
	return meta
}

// Directory inspects a directory and counts its non-hidden children.
func Directory(path string) models.EntryMetadata {
	name := entryName(path)
	info, link, err := stat(path)
	if err != nil {
		return degraded(name, err)
	}

	meta := common(path, name, info, link)
	if n, err := CountVisible(path); err == nil {
		meta.Count = &n
	}
	return meta
}

// CountVisible counts the direct children of dir whose names do not start
// with a dot. Only names are read.
func CountVisible(dir string) (int, error) {
	f, err := os.Open(dir)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if !IsHidden(name) {
			n++
		}
	}
	return n, nil
}

// IsHidden reports whether name is a dotfile.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// stat reads path once, and a second time only to follow a symlink.
func stat(path string) (fs.FileInfo, bool, error) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return info, false, err
	}
	info, err = os.Stat(path)
	return info, true, err
}

func common(path, name string, info fs.FileInfo, link bool) models.EntryMetadata {
	modified := info.ModTime()
	meta := models.EntryMetadata{
		Name:        name,
		Modified:    &modified,
		Permissions: fmt.Sprintf("0o%o", info.Mode().Perm()),
		Hidden:      IsHidden(name),
		IsSymlink:   link,
	}

	pi := statPlatform(path, info)
	meta.Accessed = pi.accessed
	meta.Created = pi.created
	meta.Owner = pi.owner
	meta.Group = pi.group
	meta.ReadOnly = pi.readOnly
	return meta
}

func detectFile(path, name string, info fs.FileInfo) string {
	ct := ContentType(name, nil)
	if ct != defaultContentType || !info.Mode().IsRegular() {
		return ct
	}
	f, err := os.Open(path)
	if err != nil {
		return ct
	}
	defer f.Close()
	return ContentType(name, f)
}

func degraded(name string, err error) models.EntryMetadata {
	return models.EntryMetadata{Name: name, Error: mediaerr.Reason(err)}
}

func entryName(path string) string {
	name := filepath.Base(path)
	if name == string(filepath.Separator) || name == "." {
		return "/"
	}
	return name
}
