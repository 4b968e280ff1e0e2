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
	"fmt"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/fair-research/concierge/config"
)

const testScope = "https://auth.globus.org/scopes/913c3f93-3c8a-4cdc-b7ab-c6bbbf2d9861/concierge"

// an in-process authorization service that counts how often each operation
// is called
type spyAuthServer struct {
	introspections int
	dependentCalls int
	revocations    int
	active         bool
	scope          string
	// token lifetime reported by introspection (an hour if unset)
	expiresIn time.Duration
}

func (spy *spyAuthServer) Introspect(accessToken string) (TokenInfo, error) {
	spy.introspections++
	expiresIn := spy.expiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	return TokenInfo{
		Active:     spy.active,
		Scope:      spy.scope,
		Subject:    "a6b7cd0e-2f1d-4f8a-93c5-0d3b1e6f7a82",
		Username:   "curie",
		Name:       "Marie Curie",
		Email:      "curie@example.edu",
		Expiration: time.Now().Add(expiresIn).Unix(),
	}, nil
}

func (spy *spyAuthServer) DependentTokens(accessToken string) ([]DependentToken, error) {
	spy.dependentCalls++
	return []DependentToken{
		{
			AccessToken:    "transfer-dependent-token",
			ResourceServer: "transfer.api.globus.org",
		},
		{
			AccessToken:    "identifiers-dependent-token",
			ResourceServer: "identifiers.fair-research.org",
		},
	}, nil
}

func (spy *spyAuthServer) Revoke(accessToken string) error {
	spy.revocations++
	return nil
}

// a token record store backed by a map (our stand-in for the journal)
type mapRecordStore struct {
	records map[string][]byte
}

func newMapRecordStore() *mapRecordStore {
	return &mapRecordStore{records: make(map[string][]byte)}
}

func (store *mapRecordStore) SaveToken(digest string, record []byte) error {
	store.records[digest] = record
	return nil
}

func (store *mapRecordStore) LoadToken(digest string) ([]byte, error) {
	return store.records[digest], nil
}

func (store *mapRecordStore) DeleteToken(digest string) error {
	delete(store.records, digest)
	return nil
}

func testAuthConfig(window int) config.AuthConfig {
	var key fernet.Key
	key.Generate()
	return config.AuthConfig{
		URL:                 "https://auth.example.org",
		ClientId:            uuid.New(),
		ClientSecret:        "s00per-sekrit",
		IntrospectionWindow: window,
		RecordKey:           key.Encode(),
	}
}

func TestValidateScopeTables(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	assert.Nil(ValidateScopeTables())
}

func TestResolveIntrospectsOnceWithinWindow(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, err := NewTokenStore(testAuthConfig(60), spy, nil)
	assert.Nil(err)

	record, err := store.Resolve("raw-token")
	assert.Nil(err)
	assert.Equal("curie", record.User.Username)
	assert.Equal(1, spy.introspections)

	// a second resolution within the window stays local
	record, err = store.Resolve("raw-token")
	assert.Nil(err)
	assert.NotNil(record)
	assert.Equal(1, spy.introspections)
	assert.Equal(1, spy.dependentCalls)
}

func TestResolveRejectsExpiredCachedToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope, expiresIn: time.Second}
	records := newMapRecordStore()
	store, _ := NewTokenStore(testAuthConfig(60), spy, records)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)

	// the token expires well inside the introspection window; a cache hit
	// must still honor the absolute expiry
	time.Sleep(1500 * time.Millisecond)
	record, err := store.Resolve("raw-token")
	assert.Nil(record)
	assert.IsType(&AuthenticationFailedError{}, err)
	assert.Equal(1, spy.introspections) // rejected locally, no extra call

	// the scoped credentials of an expired token are unusable too
	_, err = store.ScopedToken("raw-token", TransferSubservice)
	assert.IsType(&AuthenticationFailedError{}, err)

	// the stale persisted record is scrubbed
	assert.Len(records.records, 0)
}

func TestResolveRejectsInactiveToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: false}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	record, err := store.Resolve("raw-token")
	assert.Nil(record)
	assert.NotNil(err)
	assert.IsType(&AuthenticationFailedError{}, err)
	assert.Equal(0, spy.dependentCalls) // no dependent fetch for a bad token
}

func TestResolveRejectsEmptyToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	record, err := store.Resolve("")
	assert.Nil(record)
	assert.IsType(&AuthenticationFailedError{}, err)
	assert.Equal(0, spy.introspections)
}

func TestDependentTokensFetchedOncePerTokenLifetime(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	records := newMapRecordStore()
	store, err := NewTokenStore(testAuthConfig(1), spy, records)
	assert.Nil(err)

	_, err = store.Resolve("raw-token")
	assert.Nil(err)
	assert.Equal(1, spy.dependentCalls)

	// wait out the introspection window; the next resolution introspects
	// again but recovers the dependent tokens from the persisted record
	time.Sleep(1100 * time.Millisecond)
	record, err := store.Resolve("raw-token")
	assert.Nil(err)
	assert.Equal(2, spy.introspections)
	assert.Equal(1, spy.dependentCalls)
	assert.Equal("transfer-dependent-token",
		record.DependentTokens["transfer.api.globus.org"])
}

func TestScopedToken(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)

	scopedToken, err := store.ScopedToken("raw-token", TransferSubservice)
	assert.Nil(err)
	assert.Equal("transfer-dependent-token", scopedToken)

	scopedToken, err = store.ScopedToken("raw-token", IdentifiersSubservice)
	assert.Nil(err)
	assert.Equal("identifiers-dependent-token", scopedToken)
}

func TestScopedTokenRejectsUnknownSubservice(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)

	_, err = store.ScopedToken("raw-token", "teleportation")
	assert.NotNil(err)
	assert.IsType(&InsufficientScopeError{}, err)
}

func TestScopedTokenRejectsUnpermittedScope(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: "openid profile email"}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)

	_, err = store.ScopedToken("raw-token", TransferSubservice)
	assert.NotNil(err)
	assert.IsType(&InsufficientScopeError{}, err)
}

func TestScopedTokenRequiresResolution(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	_, err := store.ScopedToken("never-resolved", TransferSubservice)
	assert.NotNil(err)
	assert.IsType(&AuthenticationFailedError{}, err)
}

func TestRevokeForgetsRecord(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	records := newMapRecordStore()
	store, _ := NewTokenStore(testAuthConfig(60), spy, records)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)
	assert.Len(records.records, 1)

	assert.Nil(store.Revoke("raw-token"))
	assert.Len(records.records, 0)
	assert.Equal(1, spy.revocations)

	// revoking again is harmless
	assert.Nil(store.Revoke("raw-token"))
	assert.Equal(2, spy.revocations)
}

func TestTokenMutexesAreEvictedWithTheCache(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	store, _ := NewTokenStore(testAuthConfig(60), spy, nil)

	// overfill the cache; the mutex map must shrink with the evictions
	for i := 0; i <= tokenCacheSize; i++ {
		if _, err := store.Resolve(fmt.Sprintf("raw-token-%d", i)); err != nil {
			t.Fatalf("Couldn't resolve token %d: %s", i, err)
		}
	}
	store.mutex.Lock()
	held := len(store.tokenMutexes)
	store.mutex.Unlock()
	assert.LessOrEqual(held, tokenCacheSize)
}

func TestTokenRecordsAreEncryptedAtRest(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	spy := &spyAuthServer{active: true, scope: testScope}
	records := newMapRecordStore()
	store, _ := NewTokenStore(testAuthConfig(60), spy, records)

	_, err := store.Resolve("raw-token")
	assert.Nil(err)
	for digest, record := range records.records {
		assert.NotContains(digest, "raw-token")
		assert.NotContains(string(record), "raw-token")
		assert.NotContains(string(record), "transfer-dependent-token")
	}
}
