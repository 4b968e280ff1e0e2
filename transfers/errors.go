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

package transfers

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that a manifest transfer or task is not known to the manager
type NotFoundError struct {
	Id uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The transfer %s was not found", e.Id.String())
}

// indicates an attempt to aggregate the status of a manifest transfer with
// no member transfers
type NoTransfersError struct {
	Id uuid.UUID
}

func (e NoTransfersError) Error() string {
	return fmt.Sprintf("The manifest transfer %s has no member transfers", e.Id.String())
}

// indicates that the transfer manager is already running
type AlreadyRunningError struct {
}

func (e AlreadyRunningError) Error() string {
	return "The transfer manager is already running"
}

// indicates that the transfer manager is not running
type NotRunningError struct {
}

func (e NotRunningError) Error() string {
	return "The transfer manager is not running"
}
