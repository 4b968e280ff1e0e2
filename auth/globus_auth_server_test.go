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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/fair-research/concierge/conciergetest"
	"github.com/fair-research/concierge/config"
)

// stands up a fake Globus Auth service and a proxy pointed at it
func testAuthProxy(t *testing.T) (*GlobusAuthServer, *conciergetest.FakeAuthServer) {
	fake := conciergetest.NewFakeAuthServer()
	t.Cleanup(fake.Close)
	server := NewGlobusAuthServer(config.AuthConfig{
		URL:          fake.URL,
		ClientId:     uuid.New(),
		ClientSecret: "s00per-sekrit",
	})
	return server, fake
}

func TestIntrospectActiveToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server, fake := testAuthProxy(t)

	fake.AddToken("some-token", conciergetest.TokenProfile{
		Active:   true,
		Scope:    testScope,
		Subject:  "6aa4f6e2-4711-4d8f-92e7-9e4dcecb745e",
		Username: "wigner",
		Name:     "E. Wigner",
		Email:    "wigner@example.org",
	})

	info, err := server.Introspect("some-token")
	assert.Nil(err)
	assert.True(info.Active)
	assert.Equal(testScope, info.Scope)
	assert.Equal("wigner", info.Username)
	assert.Equal("6aa4f6e2-4711-4d8f-92e7-9e4dcecb745e", info.Subject)
	assert.Greater(info.Expiration, int64(0))
}

func TestIntrospectUnknownToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server, _ := testAuthProxy(t)

	info, err := server.Introspect("never-issued")
	assert.Nil(err)
	assert.False(info.Active)
}

func TestDependentTokenGrant(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server, fake := testAuthProxy(t)

	fake.AddToken("some-token", conciergetest.TokenProfile{
		Active: true,
		Scope:  testScope,
		Dependents: map[string]string{
			"transfer.api.globus.org": "delegated-transfer-token",
		},
	})

	tokens, err := server.DependentTokens("some-token")
	assert.Nil(err)
	assert.Len(tokens, 1)
	assert.Equal("transfer.api.globus.org", tokens[0].ResourceServer)
	assert.Equal("delegated-transfer-token", tokens[0].AccessToken)
}

func TestDependentTokensRequireActiveToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server, fake := testAuthProxy(t)

	fake.AddToken("stale-token", conciergetest.TokenProfile{Active: false})
	_, err := server.DependentTokens("stale-token")
	var serverErr *AuthServerError
	assert.ErrorAs(err, &serverErr)
	assert.Equal(401, serverErr.StatusCode)
}

func TestRevokeToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	server, fake := testAuthProxy(t)

	fake.AddToken("some-token", conciergetest.TokenProfile{Active: true, Scope: testScope})
	assert.Nil(server.Revoke("some-token"))

	info, err := server.Introspect("some-token")
	assert.Nil(err)
	assert.False(info.Active)
}
