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

// The identifiers package talks to the identifier service, which mints
// persistent identifiers (minids) for registered manifests and resolves them
// back to their records.
package identifiers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/StalkR/hsts"

	"github.com/fair-research/concierge/config"
)

const requestTimeout = 30 * time.Second

// a checksum attached to an identifier record
type Checksum struct {
	Function string `json:"function"`
	Value    string `json:"value"`
}

// a request to mint a new identifier
type Registration struct {
	// a human-readable title, recorded in the identifier's metadata
	Title string
	// URLs at which the identified content can be fetched
	Locations []string
	// checksums of the identified content
	Checksums []Checksum
	// additional metadata attached to the identifier
	Metadata map[string]any
	// whether the identifier is minted in the test namespace
	Test bool
}

// an identifier record as the identifier service reports it
type Identifier struct {
	Identifier  string         `json:"identifier"`
	Locations   []string       `json:"location"`
	Checksums   []Checksum     `json:"checksums"`
	Metadata    map[string]any `json:"metadata"`
	LandingPage string         `json:"landing_page,omitempty"`
}

// A client for the identifier service, authorized by a single scoped access
// token.
type Client struct {
	// base URL for the identifier service
	URL string
	// the namespace under which production identifiers are minted
	Namespace string
	// the namespace under which test identifiers are minted
	TestNamespace string
	// OAuth2 access token (identifiers-scoped)
	AccessToken string
	// HTTP client with a timeout and HSTS enabled
	Client http.Client
}

// creates an identifier service client that makes calls with the given
// scoped access token
func NewClient(identifiersConfig config.IdentifiersConfig, accessToken string) *Client {
	client := http.Client{Timeout: requestTimeout}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return &Client{
		URL:           identifiersConfig.URL,
		Namespace:     identifiersConfig.Namespace,
		TestNamespace: identifiersConfig.TestNamespace,
		AccessToken:   accessToken,
		Client:        client,
	}
}

// performs a GET request on the given resource, returning the resulting
// response and error
func (c *Client) get(resource string) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.URL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("/%s", resource)
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("GET: %s", res))
	req, err := http.NewRequest(http.MethodGet, res, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.AccessToken))
	return c.Client.Do(req)
}

// performs a POST request on the given resource, returning the resulting
// response and error
func (c *Client) post(resource string, body io.Reader) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.URL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("/%s", resource)
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("POST: %s", res))
	req, err := http.NewRequest(http.MethodPost, res, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.AccessToken))
	req.Header.Add("Content-Type", "application/json")
	return c.Client.Do(req)
}

// interprets an error response from the identifier service
func serviceError(resp *http.Response) error {
	var result struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		json.Unmarshal(body, &result)
	}
	if result.Message == "" {
		result.Message = resp.Status
	}
	return &ServiceError{
		StatusCode: resp.StatusCode,
		Code:       result.Code,
		Message:    result.Message,
	}
}

// Register mints an identifier for the given content and returns its record.
func (c *Client) Register(registration Registration) (Identifier, error) {
	namespace := c.Namespace
	if registration.Test {
		namespace = c.TestNamespace
	}
	metadata := make(map[string]any)
	for key, value := range registration.Metadata {
		metadata[key] = value
	}
	if registration.Title != "" {
		metadata["title"] = registration.Title
	}
	request := map[string]any{
		"namespace":  namespace,
		"location":   registration.Locations,
		"checksums":  registration.Checksums,
		"metadata":   metadata,
		"visible_to": []string{"public"},
	}
	data, err := json.Marshal(request)
	if err != nil {
		return Identifier{}, err
	}
	resp, err := c.post("identifiers", bytes.NewReader(data))
	if err != nil {
		return Identifier{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return Identifier{}, serviceError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identifier{}, err
	}
	var identifier Identifier
	err = json.Unmarshal(body, &identifier)
	return identifier, err
}

// Resolve fetches the record of a previously minted identifier.
func (c *Client) Resolve(identifier string) (Identifier, error) {
	resp, err := c.get(fmt.Sprintf("identifiers/%s", url.PathEscape(identifier)))
	if err != nil {
		return Identifier{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return Identifier{}, &NotFoundError{Identifier: identifier}
	}
	if resp.StatusCode != 200 {
		return Identifier{}, serviceError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identifier{}, err
	}
	var record Identifier
	err = json.Unmarshal(body, &record)
	return record, err
}
