// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bucket implements storage.Store on top of a GCS bucket.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"github.com/kcore-project/kcore/internal/kerr"
	kstorage "github.com/kcore-project/kcore/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/sys/unix"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const contentType = "application/octet-stream"

type ClientConfig struct {
	// Alternate endpoint, e.g. an emulator. When set and TokenSource is nil,
	// requests are sent unauthenticated.
	Endpoint string

	// If non-nil, used to authorize requests instead of the default
	// credentials.
	TokenSource oauth2.TokenSource

	MaxRetryDuration time.Duration
	RetryMultiplier  float64
}

// NewClient returns a Go storage client configured with the retry policy
// every Store call relies on.
func NewClient(ctx context.Context, c ClientConfig) (sc *storage.Client, err error) {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	switch {
	case c.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(c.TokenSource))
	case c.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}

	sc, err = storage.NewClient(ctx, opts...)
	if err != nil {
		err = fmt.Errorf("go storage client creation failed: %w", err)
		return
	}

	// RetryAlways makes every call, including non-idempotent ones, consult
	// ShouldRetry.
	sc.SetRetry(
		storage.WithBackoff(gax.Backoff{
			Max:        c.MaxRetryDuration,
			Multiplier: c.RetryMultiplier,
		}),
		storage.WithPolicy(storage.RetryAlways),
		storage.WithErrorFunc(ShouldRetry))

	return
}

// ShouldRetry extends storage.ShouldRetry to HTTP 401, which GCS sometimes
// returns for tokens that are about to expire.
func ShouldRetry(err error) (b bool) {
	b = storage.ShouldRetry(err)
	if b {
		return
	}

	var typed *googleapi.Error
	if errors.As(err, &typed) && typed.Code == http.StatusUnauthorized {
		b = true
	}
	return
}

// Store keeps each blob as the object prefix+name in a bucket.
type Store struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

var _ kstorage.Store = &Store{}

func NewStore(client *storage.Client, bucketName string, prefix string) *Store {
	return &Store{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		prefix:     prefix,
	}
}

func (s *Store) Name() string {
	return "gs://" + s.bucketName + "/" + s.prefix
}

func (s *Store) Load(ctx context.Context, name string) (content []byte, err error) {
	r, err := s.bucket.Object(s.prefix + name).NewReader(ctx)
	if err != nil {
		err = translate("load", name, err)
		return
	}
	defer r.Close()

	content, err = io.ReadAll(r)
	if err != nil {
		err = fmt.Errorf("load %q: %w", name, err)
	}
	return
}

func (s *Store) Save(ctx context.Context, name string, content []byte) (err error) {
	if name == "" {
		return fmt.Errorf("save: empty name: %w", kerr.ErrInvalidArgument)
	}

	w := s.bucket.Object(s.prefix + name).NewWriter(ctx)
	w.ContentType = contentType

	// The writer must be closed successfully for the object to exist, so
	// don't defer the close.
	if _, err = w.Write(content); err != nil {
		w.Close()
		return translate("save", name, err)
	}
	if err = w.Close(); err != nil {
		return translate("save", name, err)
	}
	return
}

func (s *Store) Delete(ctx context.Context, name string) (err error) {
	if err = s.bucket.Object(s.prefix + name).Delete(ctx); err != nil {
		err = translate("delete", name, err)
	}
	return
}

func (s *Store) List(ctx context.Context, prefix string) (names []string, err error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})
	for {
		var attrs *storage.ObjectAttrs
		attrs, err = it.Next()
		if err == iterator.Done {
			err = nil
			break
		}
		if err != nil {
			err = translate("list", prefix, err)
			return
		}
		names = append(names, strings.TrimPrefix(attrs.Name, s.prefix))
	}

	sort.Strings(names)
	return
}

// translate maps storage client errors onto the kernel error kinds.
func translate(op string, name string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s %q: %w", op, name, kerr.ErrNotFound)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s %q: %w", op, name, kerr.ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s %q: %w: %w", op, name, unix.EACCES, err)
		}
	}

	return fmt.Errorf("%s %q: %w", op, name, err)
}
