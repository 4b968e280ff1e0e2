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

package journal

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that the journal is not open for reading or writing
type NotOpenError struct {
}

func (e NotOpenError) Error() string {
	return "The concierge journal is not open for reading or writing."
}

// indicates that the journal database could not be opened
type OpenError struct {
	File    string
	Message string
}

func (e OpenError) Error() string {
	return fmt.Sprintf("Could not open the journal database %s: %s", e.File, e.Message)
}

// indicates that the manifest with the given ID has no record in the journal
type ManifestNotFoundError struct {
	Id uuid.UUID
}

func (e ManifestNotFoundError) Error() string {
	return fmt.Sprintf("No manifest record was found with ID %s", e.Id.String())
}

// indicates that a record could not be written to the journal
type WriteError struct {
	Bucket  string
	Message string
}

func (e WriteError) Error() string {
	return fmt.Sprintf("Could not write a %s record to the journal: %s", e.Bucket, e.Message)
}
