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
)

// indicates that a URL matched none of the recognized Globus dialects, or
// that its endpoint segment is not a UUID
type InvalidURLError struct {
	URL, Message string
}

func (e InvalidURLError) Error() string {
	return fmt.Sprintf("Invalid Globus URL '%s': %s", e.URL, e.Message)
}

// indicates that a URL is recognized as belonging to a newer endpoint naming
// generation that this service does not yet support (we refuse to misparse it)
type NotSupportedError struct {
	URL, Dialect string
}

func (e NotSupportedError) Error() string {
	return fmt.Sprintf("The URL '%s' uses the unsupported %s naming scheme",
		e.URL, e.Dialect)
}

// This error type conveys a rejected or failed Globus Transfer API call. The
// StatusCode field distinguishes caller mistakes (400) from upstream service
// failures (503) so clients know whether retrying is sensible.
type TransferError struct {
	// HTTP status class reported to our own clients (400 or 503)
	StatusCode int
	// the Globus error condition (e.g. "EndpointNotFound")
	Code string
	// the upstream error message
	Message string
}

func (e TransferError) Error() string {
	return fmt.Sprintf("Globus Transfer error (%d): %s (%s)",
		e.StatusCode, e.Message, e.Code)
}
