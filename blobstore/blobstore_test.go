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

package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// an in-memory stand-in for the S3 API
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (svc *fakeS3) PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	svc.objects[*input.Bucket+"/"+*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (svc *fakeS3) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	body, found := svc.objects[*input.Bucket+"/"+*input.Key]
	if !found {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (svc *fakeS3) DeleteObject(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	delete(svc.objects, *input.Bucket+"/"+*input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testStore() (*Store, *fakeS3) {
	svc := newFakeS3()
	store := &Store{
		svc:    svc,
		Bucket: "concierge-manifests",
		Folder: "manifests",
	}
	return store, svc
}

func TestSaveManifestReturnsLocation(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	store, svc := testStore()

	id := uuid.New()
	manifest := []byte(`[{"url":"globus://host/file1.txt","filename":"file1.txt"}]`)
	location, err := store.SaveManifest(id, manifest)
	assert.Nil(err)
	expected := fmt.Sprintf("https://concierge-manifests.s3.amazonaws.com/manifests/%s.json", id)
	assert.Equal(expected, location)
	assert.Equal(manifest, svc.objects["concierge-manifests/manifests/"+id.String()+".json"])
}

func TestLoadManifestRoundTrip(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	store, _ := testStore()

	id := uuid.New()
	manifest := []byte(`[{"url":"globus://host/file1.txt"}]`)
	_, err := store.SaveManifest(id, manifest)
	assert.Nil(err)

	loaded, err := store.LoadManifest(id)
	assert.Nil(err)
	assert.Equal(manifest, loaded)
}

func TestLoadMissingManifest(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	store, _ := testStore()

	id := uuid.New()
	_, err := store.LoadManifest(id)
	var notFound *NotFoundError
	assert.ErrorAs(err, &notFound)
	assert.Contains(notFound.Key, id.String())
}

func TestDeleteManifest(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	store, _ := testStore()

	id := uuid.New()
	_, err := store.SaveManifest(id, []byte(`[]`))
	assert.Nil(err)
	assert.Nil(store.DeleteManifest(id))
	_, err = store.LoadManifest(id)
	assert.IsType(&NotFoundError{}, err)

	// deleting an absent manifest is not an error
	assert.Nil(store.DeleteManifest(id))
}

func TestStoreWithoutFolder(t *testing.T) {
	assert := assert.New(t) // binds assert to t
	store, svc := testStore()
	store.Folder = ""

	id := uuid.New()
	location, err := store.SaveManifest(id, []byte(`[]`))
	assert.Nil(err)
	expected := fmt.Sprintf("https://concierge-manifests.s3.amazonaws.com/%s.json", id)
	assert.Equal(expected, location)
	_, found := svc.objects["concierge-manifests/"+id.String()+".json"]
	assert.True(found)
}
