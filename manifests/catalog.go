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
	"net/url"
	"path"
	"sort"

	"github.com/google/uuid"

	"github.com/fair-research/concierge/globus"
)

// a single (source, destination) path pair within a transfer
type TransferPair struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	// an expected checksum for the file, when the manifest carries one
	Checksum *Checksum `json:"checksum,omitempty"`
}

// A transfer catalog maps each source endpoint to the ordered list of path
// pairs to be pulled from it. Pairs keep their manifest order within each
// endpoint's bucket.
type TransferCatalog map[uuid.UUID][]TransferPair

// Returns the catalog's endpoints in a stable (sorted) order.
func (catalog TransferCatalog) Endpoints() []uuid.UUID {
	endpoints := make([]uuid.UUID, 0, len(catalog))
	for endpoint := range catalog {
		endpoints = append(endpoints, endpoint)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].String() < endpoints[j].String()
	})
	return endpoints
}

// An error catalog maps an error reason to the list of offending source
// URLs.
type ErrorCatalog map[string][]string

// reasons under which entries are filed in the error catalog
const (
	UnsupportedProtocol = "unsupported_protocol"
	InvalidURL          = "invalid_url"
)

// Builds transfer and error catalogs from a manifest. Entries whose protocol
// can't be staged (and entries whose transfer URLs won't parse) are filed in
// the error catalog and the build continues; every entry lands in exactly
// one of the two catalogs. bagDir selects the destination layout: empty
// means each file keeps its source path at the destination (flat mode);
// non-empty means files land under bagDir by filename, so several bags can
// fan in to one destination without collisions. An entirely-errored manifest
// yields NoDataToTransferError carrying the error catalog.
func BuildCatalog(entries []RemoteFileEntry, stagingProtocols []string,
	bagDir string) (TransferCatalog, ErrorCatalog, error) {

	catalog := make(TransferCatalog)
	errorCatalog := make(ErrorCatalog)
	for _, entry := range entries {
		u, err := url.Parse(entry.URL)
		if err != nil || !protocolSupported(u.Scheme, stagingProtocols) {
			errorCatalog[UnsupportedProtocol] = append(
				errorCatalog[UnsupportedProtocol], entry.URL)
			continue
		}
		location, err := globus.ParseURL(entry.URL)
		if err != nil {
			errorCatalog[InvalidURL] = append(errorCatalog[InvalidURL], entry.URL)
			continue
		}
		pair := TransferPair{
			Source:   location.Path,
			Dest:     location.Path,
			Checksum: entry.Checksum(),
		}
		if len(bagDir) > 0 {
			pair.Dest = path.Join(bagDir, entry.Filename)
		}
		catalog[location.Endpoint] = append(catalog[location.Endpoint], pair)
	}
	if len(catalog) == 0 {
		return nil, nil, &NoDataToTransferError{Errors: errorCatalog}
	}
	return catalog, errorCatalog, nil
}
