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
)

// indicates that an access token is missing, expired, revoked, or otherwise
// not accepted by the authorization service
type AuthenticationFailedError struct {
	Message string
}

func (e AuthenticationFailedError) Error() string {
	return fmt.Sprintf("Authentication failed: %s", e.Message)
}

// indicates that a token is valid but its granted scopes don't cover the
// requested subservice
type InsufficientScopeError struct {
	Subservice string
	Scope      string
}

func (e InsufficientScopeError) Error() string {
	return fmt.Sprintf("The scope '%s' does not permit access to the %s subservice",
		e.Scope, e.Subservice)
}

// conveys an error in a response from the authorization service itself
type AuthServerError struct {
	StatusCode int
	Message    string
}

func (e AuthServerError) Error() string {
	if len(e.Message) > 0 {
		return fmt.Sprintf("Globus Auth error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Globus Auth error: %d", e.StatusCode)
}
