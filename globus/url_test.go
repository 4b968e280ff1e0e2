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

package globus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testEndpointId = "f8362eaf-fc40-451c-8c44-50b71ec7f247"

func TestParseGlobusSchemeURL(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	loc, err := ParseURL("globus://" + testEndpointId + "/share/godata/file1.txt")
	assert.Nil(err)
	assert.Equal(testEndpointId, loc.Endpoint.String())
	assert.Equal("/share/godata/file1.txt", loc.Path)
}

func TestParseGlobusSchemeURLWithStrayColon(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	// some tools append a stray colon to the endpoint UUID
	loc, err := ParseURL("globus://" + testEndpointId + ":/share/godata/file1.txt")
	assert.Nil(err)
	assert.Equal(testEndpointId, loc.Endpoint.String())
	assert.Equal("/share/godata/file1.txt", loc.Path)
}

func TestParseDataGlobusOrgURL(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	for _, scheme := range []string{"http://", "https://"} {
		loc, err := ParseURL(scheme + testEndpointId + ".data.globus.org/share/godata/file1.txt")
		assert.Nil(err)
		assert.Equal(testEndpointId, loc.Endpoint.String())
		assert.Equal("/share/godata/file1.txt", loc.Path)
	}
}

func TestParseBareHostURL(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	// no scheme at all--just a host and a path
	loc, err := ParseURL(testEndpointId + ".e.globus.org/share/godata/file1.txt")
	assert.Nil(err)
	assert.Equal(testEndpointId, loc.Endpoint.String())
	assert.Equal("/share/godata/file1.txt", loc.Path)
}

func TestParseRejectsNonUUIDHost(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	badURLs := []string{
		"globus://example.com/share/godata/file1.txt",
		"https://not-a-uuid.data.globus.org/share/godata/file1.txt",
		"https://example.com/share/godata/file1.txt",
		"A bare string with spaces in it",
	}
	for _, badURL := range badURLs {
		_, err := ParseURL(badURL)
		assert.NotNil(err)
		assert.IsType(&InvalidURLError{}, err)
	}
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	_, err := ParseURL("ftp://" + testEndpointId + "/share/godata/file1.txt")
	assert.NotNil(err)
	assert.IsType(&InvalidURLError{}, err)
}

func TestParseRejectsPetrelHost(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	// the host form is recognized but its transport isn't supported
	_, err := ParseURL("https://" + testEndpointId + ".dn.glob.us/share/godata/file1.txt")
	assert.NotNil(err)
	var notSupportedErr *NotSupportedError
	assert.ErrorAs(err, &notSupportedErr)
}

func TestEndpointLocationString(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	loc := EndpointLocation{
		Endpoint: uuid.MustParse(testEndpointId),
		Path:     "/share/godata/file1.txt",
	}
	assert.Equal("globus://"+testEndpointId+"/share/godata/file1.txt", loc.String())
}
