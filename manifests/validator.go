// Copyright (c) 2020 The Fair Research Concierge Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package manifests

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/fair-research/concierge/config"
	"github.com/fair-research/concierge/globus"
)

// options controlling manifest validation
type ValidationOptions struct {
	// if true, every entry must carry at least one checksum
	RequireChecksum bool
	// URL schemes accepted in manifest entries
	Protocols []string
}

func protocolSupported(scheme string, protocols []string) bool {
	for _, protocol := range protocols {
		if scheme == protocol {
			return true
		}
	}
	return false
}

// Validates a flat remote file manifest. Each entry must name a file and a
// URL with a supported protocol; globus URLs must parse to an endpoint UUID;
// checksums, when required, must be present.
func Validate(entries []RemoteFileEntry, opts ValidationOptions) error {
	if len(entries) == 0 {
		return &ValidationError{Field: "manifest", Message: "manifest is empty"}
	}
	for _, entry := range entries {
		name := entry.Filename
		if len(name) == 0 {
			name = entry.URL
		}
		if len(entry.Filename) == 0 {
			return &ValidationError{Entry: name, Field: "filename",
				Message: "no filename was provided"}
		}
		if len(entry.URL) == 0 {
			return &ValidationError{Entry: name, Field: "url",
				Message: "no URL was provided"}
		}
		u, err := url.Parse(entry.URL)
		if err != nil {
			return &ValidationError{Entry: name, Field: "url", Message: err.Error()}
		}
		if !protocolSupported(u.Scheme, opts.Protocols) {
			return &ValidationError{Entry: name, Field: "url",
				Message: fmt.Sprintf("unsupported protocol '%s' (expected one of %s)",
					u.Scheme, strings.Join(opts.Protocols, ", "))}
		}
		if u.Scheme == globus.Scheme {
			if _, err := globus.ParseURL(entry.URL); err != nil {
				return &ValidationError{Entry: name, Field: "url", Message: err.Error()}
			}
		}
		if entry.Length < 0 {
			return &ValidationError{Entry: name, Field: "length",
				Message: "length must be non-negative"}
		}
		if opts.RequireChecksum && entry.Checksum() == nil {
			return &ValidationError{Entry: name, Field: "checksum",
				Message: fmt.Sprintf("a checksum is required (one of %s)",
					strings.Join(checksumPrecedence, ", "))}
		}
	}
	return nil
}

// Validates Globus manifest items: source refs must be parseable Globus
// URLs, dest paths must stay inside the bag root, and any checksum must use
// a supported algorithm.
func ValidateItems(items []ManifestItem) error {
	if len(items) == 0 {
		return &ValidationError{Field: "manifest_items", Message: "manifest is empty"}
	}
	for _, item := range items {
		name := item.DestPath
		if len(name) == 0 {
			name = item.SourceRef
		}
		if len(item.SourceRef) == 0 {
			return &ValidationError{Entry: name, Field: "source_ref",
				Message: "no source URL was provided"}
		}
		if _, err := globus.ParseURL(item.SourceRef); err != nil {
			return &ValidationError{Entry: name, Field: "source_ref", Message: err.Error()}
		}
		if len(item.DestPath) == 0 {
			return &ValidationError{Entry: name, Field: "dest_path",
				Message: "no destination path was provided"}
		}
		if destPathEscapes(item.DestPath) {
			return &ValidationError{Entry: name, Field: "dest_path",
				Message: "destination path escapes the bag root"}
		}
		if item.Checksum != nil && !SupportedAlgorithm(item.Checksum.Algorithm) {
			return &ValidationError{Entry: name, Field: "checksum",
				Message: fmt.Sprintf("unsupported checksum algorithm '%s'",
					item.Checksum.Algorithm)}
		}
	}
	return nil
}

// reports whether a destination path would traverse outside the bag root
func destPathEscapes(destPath string) bool {
	if path.IsAbs(destPath) {
		return true
	}
	cleaned := path.Clean(destPath)
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

// This interface provides the remote-filesystem operations live verification
// needs; the globus transfer client satisfies it.
type DirectoryLister interface {
	Activate(endpoint uuid.UUID) error
	ListDirectory(endpoint uuid.UUID, path string) (globus.Listing, error)
}

// tracks the walk bounds across a verification call
type walkState struct {
	lister   DirectoryLister
	maxDepth int
	maxFiles int
	files    int
}

// Verifies a manifest against the transfer network: each entry whose URL is
// stageable is expanded by listing its remote path (directories recursively,
// emitting one entry per discovered file); entries with other protocols pass
// through untouched. The walk is bounded by the configured depth and file
// limits so a hostile or misconfigured endpoint can't run us out of memory.
func Verify(lister DirectoryLister, entries []RemoteFileEntry,
	manifestConfig config.ManifestConfig) ([]RemoteFileEntry, error) {

	state := &walkState{
		lister:   lister,
		maxDepth: manifestConfig.MaxVerifyDepth,
		maxFiles: manifestConfig.MaxVerifyFiles,
	}
	activated := make(map[uuid.UUID]bool)

	var verified []RemoteFileEntry
	for _, entry := range entries {
		u, err := url.Parse(entry.URL)
		if err != nil || !protocolSupported(u.Scheme, manifestConfig.StagingProtocols) {
			// not stageable: pass through unchanged
			verified = append(verified, entry)
			continue
		}
		location, err := globus.ParseURL(entry.URL)
		if err != nil {
			return nil, &ValidationError{Entry: entry.Filename, Field: "url",
				Message: err.Error()}
		}
		if !activated[location.Endpoint] {
			if err := state.lister.Activate(location.Endpoint); err != nil {
				return nil, err
			}
			activated[location.Endpoint] = true
		}
		expanded, err := state.walk(location.Endpoint, location.Path, "", 0)
		if err != nil {
			return nil, err
		}
		verified = append(verified, expanded...)
	}
	return verified, nil
}

// walks a remote path, emitting one entry per discovered file; relPath is
// the path from the walk root to the current directory
func (state *walkState) walk(endpoint uuid.UUID, remotePath, relPath string,
	depth int) ([]RemoteFileEntry, error) {

	if depth > state.maxDepth {
		return nil, &ValidationError{Entry: remotePath, Field: "url",
			Message: fmt.Sprintf("directory nesting exceeds the limit of %d",
				state.maxDepth)}
	}

	listing, err := state.lister.ListDirectory(endpoint, remotePath)
	if err != nil {
		return nil, err
	}

	// the path names a single file
	if listing.Type == "file" {
		state.files++
		if state.files > state.maxFiles {
			return nil, state.tooManyFiles()
		}
		return []RemoteFileEntry{{
			URL:      globus.EndpointLocation{Endpoint: endpoint, Path: listing.Path}.String(),
			Filename: joinRelative(relPath, path.Base(listing.Path)),
			Length:   listing.Size,
		}}, nil
	}

	var entries []RemoteFileEntry
	for _, child := range listing.Entries {
		switch child.Type {
		case "file":
			state.files++
			if state.files > state.maxFiles {
				return nil, state.tooManyFiles()
			}
			entries = append(entries, RemoteFileEntry{
				URL: globus.EndpointLocation{Endpoint: endpoint,
					Path: path.Join(remotePath, child.Name)}.String(),
				Filename: joinRelative(relPath, child.Name),
				Length:   child.Size,
			})
		case "dir":
			children, err := state.walk(endpoint, path.Join(remotePath, child.Name),
				joinRelative(relPath, child.Name), depth+1)
			if err != nil {
				return nil, err
			}
			entries = append(entries, children...)
		default:
			// symlinks and other oddities are skipped
			continue
		}
	}
	return entries, nil
}

func (state *walkState) tooManyFiles() error {
	return &ValidationError{Field: "url",
		Message: fmt.Sprintf("verification found more than %d files", state.maxFiles)}
}

func joinRelative(relPath, name string) string {
	if len(relPath) == 0 {
		return name
	}
	return path.Join(relPath, name)
}
