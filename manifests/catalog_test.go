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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const otherEndpoint = "22222222-2222-2222-2222-222222222222"

var stagingProtocols = []string{"globus"}

func TestBuildCatalogGroupsByEndpoint(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "a.txt", URL: "globus://" + testEndpoint + "/data/a.txt"},
		{Filename: "b.txt", URL: "globus://" + otherEndpoint + "/data/b.txt"},
		{Filename: "c.txt", URL: "globus://" + testEndpoint + "/data/c.txt"},
	}
	catalog, errorCatalog, err := BuildCatalog(entries, stagingProtocols, "")
	assert.Nil(err)
	assert.Empty(errorCatalog)
	assert.Len(catalog, 2)

	// input order is preserved within each endpoint's bucket
	first := catalog[uuid.MustParse(testEndpoint)]
	assert.Len(first, 2)
	assert.Equal("/data/a.txt", first[0].Source)
	assert.Equal("/data/c.txt", first[1].Source)

	// flat mode: destination equals the source path
	assert.Equal("/data/a.txt", first[0].Dest)
}

func TestBuildCatalogBagDirectoryMode(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "a.txt", URL: "globus://" + testEndpoint + "/data/a.txt"},
	}
	catalog, _, err := BuildCatalog(entries, stagingProtocols, "my-bag")
	assert.Nil(err)
	pairs := catalog[uuid.MustParse(testEndpoint)]
	assert.Equal("/data/a.txt", pairs[0].Source)
	assert.Equal("my-bag/a.txt", pairs[0].Dest)
}

func TestBuildCatalogReroutesUnsupportedProtocols(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "a.txt", URL: "globus://" + testEndpoint + "/data/a.txt"},
		{Filename: "b.txt", URL: "https://example.org/data/b.txt"},
	}
	catalog, errorCatalog, err := BuildCatalog(entries, stagingProtocols, "")
	assert.Nil(err)
	assert.Len(catalog, 1)
	assert.Equal([]string{"https://example.org/data/b.txt"},
		errorCatalog[UnsupportedProtocol])
}

func TestBuildCatalogAccountsForEveryEntry(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "a.txt", URL: "globus://" + testEndpoint + "/data/a.txt"},
		{Filename: "b.txt", URL: "https://example.org/b.txt"},
		{Filename: "c.txt", URL: "globus://" + otherEndpoint + "/data/c.txt"},
		{Filename: "d.txt", URL: "globus://not-a-uuid/data/d.txt"},
	}
	catalog, errorCatalog, err := BuildCatalog(entries, stagingProtocols, "")
	assert.Nil(err)

	catalogued := 0
	for _, pairs := range catalog {
		catalogued += len(pairs)
	}
	errored := 0
	for _, urls := range errorCatalog {
		errored += len(urls)
	}
	assert.Equal(len(entries), catalogued+errored)
	assert.Equal([]string{"globus://not-a-uuid/data/d.txt"}, errorCatalog[InvalidURL])
}

func TestBuildCatalogCarriesChecksums(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{
			Filename: "a.txt",
			URL:      "globus://" + testEndpoint + "/data/a.txt",
			SHA256:   "sha256-value",
		},
	}
	catalog, _, err := BuildCatalog(entries, stagingProtocols, "")
	assert.Nil(err)
	pair := catalog[uuid.MustParse(testEndpoint)][0]
	assert.NotNil(pair.Checksum)
	assert.Equal("sha256", pair.Checksum.Algorithm)
}

func TestBuildCatalogFailsWithNothingToTransfer(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "a.txt", URL: "https://example.org/a.txt"},
		{Filename: "b.txt", URL: "ftp://example.org/b.txt"},
	}
	_, _, err := BuildCatalog(entries, stagingProtocols, "")
	assert.NotNil(err)
	var noData *NoDataToTransferError
	assert.ErrorAs(err, &noData)
	assert.Len(noData.Errors[UnsupportedProtocol], 2)

	// an empty manifest has nothing to transfer either
	_, _, err = BuildCatalog(nil, stagingProtocols, "")
	assert.NotNil(err)
	assert.ErrorAs(err, &noData)
}

func TestCatalogEndpointsAreSorted(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	entries := []RemoteFileEntry{
		{Filename: "b.txt", URL: "globus://" + otherEndpoint + "/data/b.txt"},
		{Filename: "a.txt", URL: "globus://" + testEndpoint + "/data/a.txt"},
	}
	catalog, _, err := BuildCatalog(entries, stagingProtocols, "")
	assert.Nil(err)
	endpoints := catalog.Endpoints()
	assert.Len(endpoints, 2)
	assert.Equal(testEndpoint, endpoints[0].String())
	assert.Equal(otherEndpoint, endpoints[1].String())
}
