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

// A manifest lists remotely-hosted files in one of two interchangeable wire
// formats: the flat "remote file manifest" (one record per file, checksum
// shorthand fields) and the endpoint-oriented Globus manifest (source_ref /
// dest_path items with a single structured checksum). Converters between the
// two live here; they are lossless except that collapsing several checksum
// shorthands keeps only the strongest algorithm.

// a file checksum in the structured (Globus manifest) form
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// checksum algorithms in decreasing order of preference; this is also the
// set of supported algorithms
var checksumPrecedence = []string{"sha512", "sha256", "sha1", "md5"}

// Reports whether the given checksum algorithm is one we support.
func SupportedAlgorithm(algorithm string) bool {
	for _, supported := range checksumPrecedence {
		if algorithm == supported {
			return true
		}
	}
	return false
}

// one record in a flat remote file manifest
type RemoteFileEntry struct {
	// location of the file (globus:// or any other protocol)
	URL string `json:"url"`
	// name the file takes on at its destination
	Filename string `json:"filename"`
	// size in bytes
	Length int64 `json:"length"`
	// checksum shorthand fields (any subset may be present)
	MD5    string `json:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	SHA512 string `json:"sha512,omitempty"`
}

// returns the entry's checksums in decreasing order of algorithm preference
func (entry RemoteFileEntry) checksums() []Checksum {
	byAlgorithm := map[string]string{
		"sha512": entry.SHA512,
		"sha256": entry.SHA256,
		"sha1":   entry.SHA1,
		"md5":    entry.MD5,
	}
	var checksums []Checksum
	for _, algorithm := range checksumPrecedence {
		if value := byAlgorithm[algorithm]; len(value) > 0 {
			checksums = append(checksums, Checksum{Algorithm: algorithm, Value: value})
		}
	}
	return checksums
}

// Returns the entry's strongest checksum, or nil if it has none.
func (entry RemoteFileEntry) Checksum() *Checksum {
	checksums := entry.checksums()
	if len(checksums) == 0 {
		return nil
	}
	return &checksums[0]
}

// one item in a Globus manifest
// (https://globusonline.github.io/manifests/overview.html)
type ManifestItem struct {
	// location of the file (a Globus URL)
	SourceRef string `json:"source_ref"`
	// path the file takes on at its destination, relative to the bag root
	DestPath string `json:"dest_path"`
	// structured checksum (optional)
	Checksum *Checksum `json:"checksum,omitempty"`
}

// Converts a flat remote file manifest to Globus manifest items. Each entry
// with checksums contributes its strongest one.
func ToManifestItems(entries []RemoteFileEntry) []ManifestItem {
	items := make([]ManifestItem, len(entries))
	for i, entry := range entries {
		items[i] = ManifestItem{
			SourceRef: entry.URL,
			DestPath:  entry.Filename,
			Checksum:  entry.Checksum(),
		}
	}
	return items
}

// Converts Globus manifest items back to flat remote file entries. Lengths
// are unknown to the Globus manifest format and come back as zero.
func ToRemoteFileEntries(items []ManifestItem) []RemoteFileEntry {
	entries := make([]RemoteFileEntry, len(items))
	for i, item := range items {
		entry := RemoteFileEntry{
			URL:      item.SourceRef,
			Filename: item.DestPath,
		}
		if item.Checksum != nil {
			switch item.Checksum.Algorithm {
			case "md5":
				entry.MD5 = item.Checksum.Value
			case "sha1":
				entry.SHA1 = item.Checksum.Value
			case "sha256":
				entry.SHA256 = item.Checksum.Value
			case "sha512":
				entry.SHA512 = item.Checksum.Value
			}
		}
		entries[i] = entry
	}
	return entries
}
