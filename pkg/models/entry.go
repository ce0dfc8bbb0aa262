// Package models defines the data structures shared by the media server
// and its clients.
package models

import (
	"encoding/json"
	"time"
)

// Kind distinguishes files from directories in a listing.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// EntryMetadata is a snapshot of one filesystem entry taken at inspection
// time. Files carry Size, Extension and FileType; directories carry Count.
// When inspection fails only Name and Error are meaningful.
type EntryMetadata struct {
	Name        string     `json:"name"`
	Extension   string     `json:"extension,omitempty"`
	FileType    string     `json:"filetype,omitempty"`
	Size        *int64     `json:"size,omitempty"`
	Count       *int       `json:"count,omitempty"`
	Modified    *time.Time `json:"modified,omitempty"`
	Created     *time.Time `json:"created,omitempty"`
	Accessed    *time.Time `json:"accessed,omitempty"`
	Permissions string     `json:"permissions,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Group       string     `json:"group,omitempty"`
	ReadOnly    bool       `json:"readonly"`
	Hidden      bool       `json:"hidden"`
	IsSymlink   bool       `json:"is_symlink"`
	Error       string     `json:"error,omitempty"`
}

// Degraded reports whether the entry could not be inspected.
func (m EntryMetadata) Degraded() bool {
	return m.Error != ""
}

// MarshalJSON encodes a degraded entry as {name, error} only.
func (m EntryMetadata) MarshalJSON() ([]byte, error) {
	if m.Degraded() {
		return json.Marshal(struct {
			Name  string `json:"name"`
			Error string `json:"error"`
		}{m.Name, m.Error})
	}
	type plain EntryMetadata
	return json.Marshal(plain(m))
}

// ListingNode is one entry of a directory listing. Children is only set on
// the node that was requested, and only when that node is a directory.
type ListingNode struct {
	Path     string        `json:"path"`
	Type     Kind          `json:"type"`
	Details  EntryMetadata `json:"details"`
	Children []ListingNode `json:"children,omitzero"`
}

// IsDir reports whether the node describes a directory.
func (n *ListingNode) IsDir() bool {
	return n.Type == KindDirectory
}
