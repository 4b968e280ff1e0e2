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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fair-research/concierge/config"
)

// number of token records the introspection cache holds
const tokenCacheSize = 1024

var (
	introspectionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_introspection_cache_hits_total",
		Help: "Token resolutions served from the introspection cache",
	})
	introspectionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_introspection_cache_misses_total",
		Help: "Token resolutions that required an introspection call",
	})
)

// A resolved access token together with everything the service has learned
// about it: its owner, its granted scope, and the dependent tokens issued for
// our subservices. DependentTokens maps resource servers to access tokens.
type ConciergeToken struct {
	Token             string            `json:"token"`
	User              User              `json:"user"`
	Scope             string            `json:"scope"`
	Expiration        time.Time         `json:"expiration"`
	LastIntrospection time.Time         `json:"last_introspection"`
	DependentTokens   map[string]string `json:"dependent_tokens"`
}

// reports whether the token is past its absolute expiry
func (token *ConciergeToken) expired() bool {
	return time.Now().After(token.Expiration)
}

// This interface provides persistence for token records so a service restart
// doesn't lose the user/token mapping (or force a dependent-token refetch).
// The journal implements it; records are fernet-encrypted before they reach
// the store, keyed by a digest of the raw token.
type TokenRecordStore interface {
	// saves the (encrypted) record under the given token digest
	SaveToken(digest string, record []byte) error
	// loads the record with the given token digest (nil if absent)
	LoadToken(digest string) ([]byte, error)
	// deletes the record with the given token digest (no-op if absent)
	DeleteToken(digest string) error
}

// This type exchanges raw access tokens for ConciergeToken records, caching
// introspection results so the authorization service sees at most one
// introspection per token per configured window.
type TokenStore struct {
	server AuthServer
	window time.Duration
	cache  *expirable.LRU[string, *ConciergeToken]

	// persistence (may be nil in tests)
	records TokenRecordStore
	keys    []*fernet.Key

	// per-token serialization of the check-then-refresh sequence
	mutex        sync.Mutex
	tokenMutexes map[string]*sync.Mutex
}

// creates a token store that resolves tokens against the given authorization
// service, persisting records to the given store (which may be nil)
func NewTokenStore(authConfig config.AuthConfig, server AuthServer,
	records TokenRecordStore) (*TokenStore, error) {
	if err := ValidateScopeTables(); err != nil {
		return nil, err
	}
	var keys []*fernet.Key
	if records != nil {
		var err error
		keys, err = fernet.DecodeKeys(authConfig.RecordKey)
		if err != nil {
			return nil, fmt.Errorf("Invalid token record key: %s", err.Error())
		}
	}
	window := authConfig.Window()
	store := &TokenStore{
		server:       server,
		window:       window,
		records:      records,
		keys:         keys,
		tokenMutexes: make(map[string]*sync.Mutex),
	}
	// evicting the mutex with the cache entry keeps the mutex map from
	// growing with every token ever resolved
	store.cache = expirable.NewLRU[string, *ConciergeToken](tokenCacheSize,
		store.forgetTokenMutex, window)
	return store, nil
}

// eviction callback for the introspection cache
func (store *TokenStore) forgetTokenMutex(token string, _ *ConciergeToken) {
	store.mutex.Lock()
	delete(store.tokenMutexes, token)
	store.mutex.Unlock()
}

// returns the digest under which records for the given raw token are stored
// (the raw token itself never lands on disk)
func tokenDigest(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// returns the mutex serializing operations on the given token
func (store *TokenStore) tokenMutex(token string) *sync.Mutex {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	mutex, found := store.tokenMutexes[token]
	if !found {
		mutex = new(sync.Mutex)
		store.tokenMutexes[token] = mutex
	}
	return mutex
}

// Resolves a raw access token to its ConciergeToken record. A record whose
// last introspection falls within the configured window is returned without
// contacting the authorization service; otherwise the token is introspected
// anew. Dependent tokens are fetched once per token lifetime, on the first
// resolution.
func (store *TokenStore) Resolve(rawToken string) (*ConciergeToken, error) {
	if len(rawToken) == 0 {
		return nil, &AuthenticationFailedError{Message: "no access token supplied"}
	}
	mutex := store.tokenMutex(rawToken)
	mutex.Lock()
	defer mutex.Unlock()

	// the cache TTL is the introspection window, but the window only gates
	// re-introspection: the token's absolute expiry is checked on every use
	if record, found := store.cache.Get(rawToken); found {
		if record.expired() {
			store.cache.Remove(rawToken)
			store.deleteRecord(rawToken)
			return nil, &AuthenticationFailedError{Message: "token has expired"}
		}
		introspectionCacheHits.Inc()
		return record, nil
	}
	introspectionCacheMisses.Inc()

	info, err := store.server.Introspect(rawToken)
	if err != nil {
		return nil, err
	}
	if !info.Active {
		// scrub any stale persisted record
		store.deleteRecord(rawToken)
		return nil, &AuthenticationFailedError{Message: "token is expired or revoked"}
	}

	record := store.loadRecord(rawToken)
	if record == nil {
		// first sight of this token: fetch its dependent tokens
		dependents, err := store.server.DependentTokens(rawToken)
		if err != nil {
			return nil, err
		}
		record = &ConciergeToken{
			Token:           rawToken,
			DependentTokens: make(map[string]string),
		}
		for _, dependent := range dependents {
			record.DependentTokens[dependent.ResourceServer] = dependent.AccessToken
		}
		slog.Info(fmt.Sprintf("Registered token for user %s (%d dependent tokens)",
			info.Username, len(dependents)))
	}

	record.User = User{
		Subject:  info.Subject,
		Username: info.Username,
		Name:     info.Name,
		Email:    info.Email,
	}
	record.Scope = info.Scope
	record.Expiration = time.Unix(info.Expiration, 0)
	record.LastIntrospection = time.Now()

	store.cache.Add(rawToken, record)
	store.saveRecord(rawToken, record)
	return record, nil
}

// Returns the dependent access token for the given subservice, or an
// InsufficientScopeError if the token's scope doesn't unlock it. The token
// must have been resolved first.
func (store *TokenStore) ScopedToken(rawToken, subservice string) (string, error) {
	record, found := store.cache.Get(rawToken)
	if !found {
		record = store.loadRecord(rawToken)
	}
	if record == nil {
		return "", &AuthenticationFailedError{Message: "token has not been resolved"}
	}
	if record.expired() {
		return "", &AuthenticationFailedError{Message: "token has expired"}
	}

	resourceServer, known := resourceServers[subservice]
	if !known {
		return "", &InsufficientScopeError{Subservice: subservice, Scope: record.Scope}
	}
	permitted := false
	for _, name := range subservicesForScope(record.Scope) {
		if name == subservice {
			permitted = true
			break
		}
	}
	if !permitted {
		return "", &InsufficientScopeError{Subservice: subservice, Scope: record.Scope}
	}
	scopedToken, found := record.DependentTokens[resourceServer]
	if !found {
		return "", &InsufficientScopeError{Subservice: subservice, Scope: record.Scope}
	}
	return scopedToken, nil
}

// Revokes the given raw token with the authorization service and forgets its
// record. Revoking a token the service has never seen is not an error.
func (store *TokenStore) Revoke(rawToken string) error {
	mutex := store.tokenMutex(rawToken)
	mutex.Lock()
	defer mutex.Unlock()

	if err := store.server.Revoke(rawToken); err != nil {
		return err
	}
	store.cache.Remove(rawToken)
	store.deleteRecord(rawToken)

	store.mutex.Lock()
	delete(store.tokenMutexes, rawToken)
	store.mutex.Unlock()
	return nil
}

// loads a persisted token record, returning nil if there isn't one (or if it
// can't be decrypted or decoded)
func (store *TokenStore) loadRecord(rawToken string) *ConciergeToken {
	if store.records == nil {
		return nil
	}
	encrypted, err := store.records.LoadToken(tokenDigest(rawToken))
	if err != nil || encrypted == nil {
		return nil
	}
	data := fernet.VerifyAndDecrypt(encrypted, 0, store.keys)
	if data == nil {
		slog.Error("Couldn't decrypt a persisted token record (wrong record key?)")
		return nil
	}
	var record ConciergeToken
	if json.Unmarshal(data, &record) != nil {
		return nil
	}
	return &record
}

// persists a token record, encrypted at rest
func (store *TokenStore) saveRecord(rawToken string, record *ConciergeToken) {
	if store.records == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	encrypted, err := fernet.EncryptAndSign(data, store.keys[0])
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't encrypt a token record: %s", err.Error()))
		return
	}
	if err := store.records.SaveToken(tokenDigest(rawToken), encrypted); err != nil {
		slog.Error(fmt.Sprintf("Couldn't persist a token record: %s", err.Error()))
	}
}

func (store *TokenStore) deleteRecord(rawToken string) {
	if store.records == nil {
		return
	}
	if err := store.records.DeleteToken(tokenDigest(rawToken)); err != nil {
		slog.Error(fmt.Sprintf("Couldn't delete a token record: %s", err.Error()))
	}
}
