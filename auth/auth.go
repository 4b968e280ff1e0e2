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
	"strings"
)

// A record identifying a user of the concierge service. Users are keyed by
// the stable subject identifier issued by the authorization service, never by
// username (usernames can be reassigned across identity providers).
type User struct {
	// stable subject identifier ("sub" claim)
	Subject string
	// username (human-readable, possibly an email-style identity)
	Username string
	// display name
	Name string
	// email address
	Email string
	// organization with which this user is affiliated (if known)
	Organization string
}

// names of the subservices the concierge brokers delegated tokens for
const (
	TransferSubservice    = "transfer"
	IdentifiersSubservice = "identifiers"
)

// maps each subservice name to the resource server that issues its dependent
// tokens
var resourceServers = map[string]string{
	TransferSubservice:    "transfer.api.globus.org",
	IdentifiersSubservice: "identifiers.fair-research.org",
}

// maps the suffix of each scope the concierge accepts to the subservices
// that scope unlocks; the full scope string is
// https://auth.globus.org/scopes/<client-id>/<suffix>
var scopeSubservices = map[string][]string{
	"concierge": {TransferSubservice, IdentifiersSubservice},
}

// Checks the static scope and subservice tables for consistency. This runs
// once at startup so a table typo can't surface later as a mysterious
// per-request scope failure.
func ValidateScopeTables() error {
	for suffix, subservices := range scopeSubservices {
		if len(subservices) == 0 {
			return fmt.Errorf("Scope suffix '%s' unlocks no subservices", suffix)
		}
		for _, subservice := range subservices {
			if _, found := resourceServers[subservice]; !found {
				return fmt.Errorf("Scope suffix '%s' names unknown subservice '%s'",
					suffix, subservice)
			}
		}
	}
	return nil
}

// returns the subservices unlocked by the given space-delimited scope string,
// matching each granted scope against the accepted suffixes
func subservicesForScope(scope string) []string {
	var names []string
	for _, granted := range strings.Fields(scope) {
		for suffix, subservices := range scopeSubservices {
			if granted == suffix || strings.HasSuffix(granted, "/"+suffix) {
				names = append(names, subservices...)
			}
		}
	}
	return names
}
