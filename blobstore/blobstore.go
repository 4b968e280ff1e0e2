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

// The blobstore package keeps serialized manifests in an S3 bucket so that
// the URL of a registered manifest can be handed to identifier services and
// external tooling.
package blobstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/fair-research/concierge/config"
)

// the subset of the S3 API the store uses
type s3Client interface {
	PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	DeleteObject(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
}

// A Store keeps manifest blobs in an S3 bucket under a key prefix, so the
// bucket can be shared with other applications. Do not change Bucket or
// Folder concurrently with calls using the structure.
type Store struct {
	svc    s3Client
	Bucket string
	Folder string
}

// NewStore creates a manifest blob store backed by the configured bucket.
// The credentials come from the usual AWS environment.
func NewStore(storeConfig config.StoreConfig) (*Store, error) {
	awsSession, err := session.NewSession(&aws.Config{
		Region: aws.String(storeConfig.Region),
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		svc:    s3.New(awsSession),
		Bucket: storeConfig.Bucket,
		Folder: storeConfig.Folder,
	}, nil
}

// the object key under which a manifest is stored
func (store *Store) key(id uuid.UUID) string {
	return path.Join(store.Folder, id.String()+".json")
}

// URL returns the public location of the manifest with the given ID.
func (store *Store) URL(id uuid.UUID) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", store.Bucket, store.key(id))
}

// SaveManifest uploads a serialized manifest and returns its location.
func (store *Store) SaveManifest(id uuid.UUID, manifest []byte) (string, error) {
	key := store.key(id)
	_, err := store.svc.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(store.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(manifest),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", &StoreError{Op: "save", Key: key, Message: err.Error()}
	}
	return store.URL(id), nil
}

// LoadManifest fetches the serialized manifest with the given ID.
func (store *Store) LoadManifest(id uuid.UUID) ([]byte, error) {
	key := store.key(id)
	output, err := store.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(store.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil, &NotFoundError{Key: key}
		}
		return nil, &StoreError{Op: "load", Key: key, Message: err.Error()}
	}
	defer output.Body.Close()
	manifest, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, &StoreError{Op: "load", Key: key, Message: err.Error()}
	}
	return manifest, nil
}

// DeleteManifest removes the manifest with the given ID. Deleting a manifest
// that does not exist is not an error.
func (store *Store) DeleteManifest(id uuid.UUID) error {
	key := store.key(id)
	_, err := store.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(store.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &StoreError{Op: "delete", Key: key, Message: err.Error()}
	}
	return nil
}
