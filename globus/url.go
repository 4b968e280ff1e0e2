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
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// This file parses the several URL dialects the transfer network has used to
// name "a location on an endpoint" over the years. The service has to accept
// all of them simultaneously, so the dialects live in an ordered table and
// the first match wins.

// the dedicated scheme for addressing an endpoint directly by its UUID
const Scheme = "globus"

// A location on a Globus endpoint, produced by ParseURL. The path may be
// empty (the endpoint root) but a successfully parsed location always has a
// valid endpoint UUID.
type EndpointLocation struct {
	Endpoint uuid.UUID
	Path     string
}

func (loc EndpointLocation) String() string {
	return fmt.Sprintf("%s://%s%s", Scheme, loc.Endpoint.String(), loc.Path)
}

// a recognized hostname suffix denoting a federated-endpoint gateway;
// unsupported entries are recognized (and refused) so that we never silently
// misparse a plausible URL from a newer endpoint generation
type hostDialect struct {
	Name      string
	Suffix    string
	Supported bool
}

// tried in order; first match wins
var hostDialects = []hostDialect{
	{Name: "GCS v4 collection", Suffix: ".data.globus.org", Supported: true},
	{Name: "GCS v4 Petrel", Suffix: ".e.globus.org", Supported: true},
	{Name: "GCS v5 collection domain", Suffix: ".dn.glob.us", Supported: false},
}

// extracts an endpoint UUID from the hostname by stripping a recognized
// gateway suffix
func parseHost(raw, host string) (uuid.UUID, error) {
	for _, dialect := range hostDialects {
		if strings.HasSuffix(host, dialect.Suffix) {
			if !dialect.Supported {
				return uuid.UUID{}, &NotSupportedError{URL: raw, Dialect: dialect.Name}
			}
			id, err := uuid.Parse(strings.TrimSuffix(host, dialect.Suffix))
			if err != nil {
				return uuid.UUID{}, &InvalidURLError{URL: raw,
					Message: "hostname endpoint segment is not a UUID"}
			}
			return id, nil
		}
	}
	return uuid.UUID{}, &InvalidURLError{URL: raw,
		Message: "hostname carries no recognized endpoint suffix"}
}

// Parses a URL in any of the recognized dialects into an EndpointLocation:
//  1. globus://<uuid>/<path>
//  2. http(s)://<uuid><gateway-suffix>/<path>
//  3. bare <uuid><gateway-suffix>/<path> (scheme assumed to be http)
//
// Newer collection-domain hostnames are recognized but rejected with
// NotSupportedError; everything else fails with InvalidURLError.
func ParseURL(raw string) (EndpointLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return EndpointLocation{}, &InvalidURLError{URL: raw, Message: err.Error()}
	}

	switch u.Scheme {
	case Scheme:
		// older manifests carry a stray colon after the endpoint UUID
		host := strings.TrimSuffix(u.Host, ":")
		id, err := uuid.Parse(host)
		if err != nil {
			return EndpointLocation{}, &InvalidURLError{URL: raw,
				Message: "endpoint is not a UUID"}
		}
		return EndpointLocation{Endpoint: id, Path: u.Path}, nil
	case "http", "https":
		id, err := parseHost(raw, u.Host)
		if err != nil {
			return EndpointLocation{}, err
		}
		return EndpointLocation{Endpoint: id, Path: u.Path}, nil
	case "":
		// no scheme: treat as an http gateway URL
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return EndpointLocation{}, &InvalidURLError{URL: raw, Message: err.Error()}
		}
		id, err := parseHost(raw, u.Host)
		if err != nil {
			return EndpointLocation{}, err
		}
		return EndpointLocation{Endpoint: id, Path: u.Path}, nil
	default:
		return EndpointLocation{}, &InvalidURLError{URL: raw,
			Message: fmt.Sprintf("unrecognized scheme '%s'", u.Scheme)}
	}
}
