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

package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/StalkR/hsts"

	"github.com/fair-research/concierge/config"
)

// The result of introspecting an access token
// (https://docs.globus.org/api/auth/reference/#token_introspect).
type TokenInfo struct {
	// false if the token is expired, revoked, or simply not a token
	Active bool `json:"active"`
	// space-delimited granted scopes
	Scope string `json:"scope"`
	// stable subject identifier for the token's owner
	Subject string `json:"sub"`
	// username of the token's owner
	Username string `json:"username"`
	// display name
	Name string `json:"name"`
	// email address
	Email string `json:"email"`
	// expiration time (seconds since the epoch)
	Expiration int64 `json:"exp"`
}

// a token issued for one of our dependent resource servers in exchange for a
// client token
type DependentToken struct {
	AccessToken    string `json:"access_token"`
	ResourceServer string `json:"resource_server"`
	Scope          string `json:"scope"`
	ExpiresIn      int    `json:"expires_in"`
}

// This interface provides the authorization service operations the token
// store needs. The Globus implementation is below; tests substitute fakes.
type AuthServer interface {
	// introspects the given access token, reporting its validity and claims
	Introspect(accessToken string) (TokenInfo, error)
	// exchanges the given access token for this service's dependent tokens
	DependentTokens(accessToken string) ([]DependentToken, error)
	// revokes the given access token (idempotent)
	Revoke(accessToken string) error
}

// this type represents a proxy for the Globus Auth service
// (https://docs.globus.org/api/auth/)
type GlobusAuthServer struct {
	// path to server
	URL string
	// confidential client credentials used to authorize API calls
	ClientId, ClientSecret string
	// HTTP client with a timeout and HSTS enabled
	Client http.Client
}

// constructs a proxy to the Globus Auth service using the service's
// confidential client credentials
func NewGlobusAuthServer(authConfig config.AuthConfig) *GlobusAuthServer {
	client := http.Client{Timeout: 30 * time.Second}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return &GlobusAuthServer{
		URL:          authConfig.URL,
		ClientId:     authConfig.ClientId.String(),
		ClientSecret: authConfig.ClientSecret,
		Client:       client,
	}
}

// here's how Globus Auth represents errors in responses to API calls
type globusAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// emits an error representing the error in a response from the auth service
func globusAuthError(response *http.Response) error {
	var message string
	body, err := io.ReadAll(response.Body)
	if err == nil {
		var result globusAuthErrorResponse
		if json.Unmarshal(body, &result) == nil {
			message = result.ErrorDescription
			if len(message) == 0 {
				message = result.Error
			}
		}
	}
	return &AuthServerError{
		StatusCode: response.StatusCode,
		Message:    message,
	}
}

// performs a form-encoded POST on the given resource, authorized with the
// service's client credentials
func (server *GlobusAuthServer) post(resource string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/v2/oauth2/%s", server.URL, resource),
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(server.ClientId, server.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return server.Client.Do(req)
}

func (server *GlobusAuthServer) Introspect(accessToken string) (TokenInfo, error) {
	values := url.Values{}
	values.Add("token", accessToken)
	values.Add("include", "identity_set")
	resp, err := server.post("token/introspect", values)
	if err != nil {
		return TokenInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return TokenInfo{}, globusAuthError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenInfo{}, err
	}
	var info TokenInfo
	err = json.Unmarshal(body, &info)
	return info, err
}

func (server *GlobusAuthServer) DependentTokens(accessToken string) ([]DependentToken, error) {
	values := url.Values{}
	values.Add("grant_type", "urn:globus:auth:grant_type:dependent_token")
	values.Add("token", accessToken)
	resp, err := server.post("token", values)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, globusAuthError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var tokens []DependentToken
	err = json.Unmarshal(body, &tokens)
	return tokens, err
}

func (server *GlobusAuthServer) Revoke(accessToken string) error {
	values := url.Values{}
	values.Add("token", accessToken)
	resp, err := server.post("token/revoke", values)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// revoking an unknown token is not an error
	if resp.StatusCode != 200 && resp.StatusCode != 404 {
		return globusAuthError(resp)
	}
	return nil
}
