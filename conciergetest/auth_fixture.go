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

package conciergetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// the identity behind a token known to a FakeAuthServer
type TokenProfile struct {
	Active   bool
	Scope    string
	Subject  string
	Username string
	Name     string
	Email    string
	// access tokens keyed by resource server, issued as dependent tokens
	Dependents map[string]string
}

// FakeAuthServer implements the subset of the Globus Auth API that the
// Concierge talks to: token introspection, dependent token grants, and
// token revocation.
type FakeAuthServer struct {
	*httptest.Server

	mutex  sync.Mutex
	tokens map[string]TokenProfile

	// request counters, for asserting on caching behavior
	Introspections int
	DependentCalls int
	Revocations    int
}

func NewFakeAuthServer() *FakeAuthServer {
	server := &FakeAuthServer{
		tokens: make(map[string]TokenProfile),
	}
	server.Server = httptest.NewServer(http.HandlerFunc(server.handle))
	return server
}

// AddToken registers a token and the identity it resolves to.
func (server *FakeAuthServer) AddToken(accessToken string, profile TokenProfile) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	server.tokens[accessToken] = profile
}

// RevokeToken marks a token inactive, as revocation would.
func (server *FakeAuthServer) RevokeToken(accessToken string) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	profile := server.tokens[accessToken]
	profile.Active = false
	server.tokens[accessToken] = profile
}

func (server *FakeAuthServer) handle(w http.ResponseWriter, r *http.Request) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if _, _, ok := r.BasicAuth(); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "unauthorized",
			"error_description": "Client credentials are required",
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	accessToken := r.PostForm.Get("token")

	switch r.URL.Path {
	case "/v2/oauth2/token/introspect":
		server.Introspections++
		profile, found := server.tokens[accessToken]
		if !found {
			profile = TokenProfile{Active: false}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"active":   profile.Active,
			"scope":    profile.Scope,
			"sub":      profile.Subject,
			"username": profile.Username,
			"name":     profile.Name,
			"email":    profile.Email,
			"exp":      time.Now().Add(time.Hour).Unix(),
		})
	case "/v2/oauth2/token":
		server.DependentCalls++
		if r.PostForm.Get("grant_type") != "urn:globus:auth:grant_type:dependent_token" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "unsupported_grant_type",
				"error_description": "Unrecognized grant type",
			})
			return
		}
		profile, found := server.tokens[accessToken]
		if !found || !profile.Active {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Token is not active",
			})
			return
		}
		grants := make([]map[string]any, 0)
		for resourceServer, token := range profile.Dependents {
			grants = append(grants, map[string]any{
				"access_token":    token,
				"resource_server": resourceServer,
				"scope":           profile.Scope,
				"expires_in":      3600,
			})
		}
		json.NewEncoder(w).Encode(grants)
	case "/v2/oauth2/token/revoke":
		server.Revocations++
		profile := server.tokens[accessToken]
		profile.Active = false
		server.tokens[accessToken] = profile
		w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
