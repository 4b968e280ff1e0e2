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

package manifests

import (
	"fmt"
)

// indicates that a manifest entry is malformed; Entry names the offending
// record (its filename or URL) and Field the offending field
type ValidationError struct {
	Entry   string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("Invalid manifest entry '%s': %s: %s",
		e.Entry, e.Field, e.Message)
}

// indicates that every entry in a manifest was filed into the error catalog,
// leaving nothing to transfer; the catalog rides along for diagnosis
type NoDataToTransferError struct {
	Errors ErrorCatalog
}

func (e NoDataToTransferError) Error() string {
	return fmt.Sprintf("No transferable data in manifest: %v", e.Errors)
}
