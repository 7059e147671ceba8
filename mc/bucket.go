/*
Copyright © 2021 the PYRITE authors.
This file is part of PYRITE.

PYRITE is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PYRITE is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PYRITE.  If not, see <http://www.gnu.org/licenses/>.
*/


package mc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// IsBlob reports whether location is a blob storage URL rather than a
// local path.
func IsBlob(location string) bool {
	u, err := url.Parse(location)
	return err == nil && len(u.Scheme) > 1
}

// OpenBucket returns the blob storage bucket at location, which is
// either a local directory or a URL in the format 'provider://name'.
// The accepted providers are "file" for the local filesystem, "mem"
// for memory (e.g., for testing), "gs" for Google Cloud Storage, and
// "s3" for AWS S3. Local directories are created if they do not exist.
func OpenBucket(ctx context.Context, location string) (*blob.Bucket, error) {
	if !IsBlob(location) {
		return openDir(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("mc: opening bucket: %v", err)
	}
	switch u.Scheme {
	case "file":
		return openDir(u.Path)
	case "mem", "gs", "s3":
		b, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("mc: opening bucket %s: %v", location, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("mc: invalid blob storage provider %s", u.Scheme)
	}
}

func openDir(dir string) (*blob.Bucket, error) {
	dir = os.ExpandEnv(dir)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("mc: creating output directory: %v", err)
	}
	b, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("mc: opening directory %s: %v", dir, err)
	}
	return b, nil
}

// withRetry calls op until it succeeds, retrying with exponential
// backoff at most five times. Errors for missing blobs are returned
// without retrying.
func withRetry(ctx context.Context, log logrus.FieldLogger, op func() error) error {
	return backoff.RetryNotify(
		func() error {
			err := op()
			if gcerrors.Code(err) == gcerrors.NotFound {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx),
		func(err error, d time.Duration) {
			log.WithError(err).Warnf("retrying in %v", d)
		},
	)
}

// readBlob reads the blob with the given key from bucket.
func readBlob(ctx context.Context, bucket *blob.Bucket, key string, log logrus.FieldLogger) ([]byte, error) {
	var b []byte
	err := withRetry(ctx, log, func() (err error) {
		b, err = bucket.ReadAll(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mc: reading blob %s: %v", key, err)
	}
	return b, nil
}

// writeBlob writes data to the blob with the given key in bucket.
func writeBlob(ctx context.Context, bucket *blob.Bucket, key string, data []byte, log logrus.FieldLogger) error {
	err := withRetry(ctx, log, func() error {
		return bucket.WriteAll(ctx, key, data, nil)
	})
	if err != nil {
		return fmt.Errorf("mc: writing blob %s: %v", key, err)
	}
	return nil
}

// listKeys returns the keys in bucket that match the given glob pattern,
// in lexical order.
func listKeys(ctx context.Context, bucket *blob.Bucket, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("mc: invalid pattern %q", pattern)
	}
	var keys []string
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mc: listing blobs: %v", err)
		}
		ok, err := doublestar.Match(pattern, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("mc: matching %s: %v", obj.Key, err)
		}
		if ok {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// File is a file being created at a local path or in blob storage.
type File interface {
	io.WriteCloser

	// Abort discards the file instead of completing it.
	Abort() error
}

// Create creates a file at location, which may be a local path or a
// blob storage URL. The file is complete once it has been closed.
// Files that could not be written completely should be aborted.
func Create(ctx context.Context, location string) (File, error) {
	if !IsBlob(location) {
		location = os.ExpandEnv(location)
		if err := os.MkdirAll(filepath.Dir(location), os.ModePerm); err != nil {
			return nil, fmt.Errorf("mc: %v", err)
		}
		f, err := os.Create(location)
		if err != nil {
			return nil, fmt.Errorf("mc: %v", err)
		}
		return localFile{f}, nil
	}
	dir, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, dir)
	if err != nil {
		return nil, err
	}
	// Canceling the writer's context before it is closed discards
	// the blob.
	ctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		cancel()
		bucket.Close()
		return nil, fmt.Errorf("mc: opening writer for '%s': %v", location, err)
	}
	return &bucketWriter{Writer: w, bucket: bucket, cancel: cancel}, nil
}

type localFile struct{ *os.File }

func (f localFile) Abort() error {
	f.File.Close()
	if err := os.Remove(f.Name()); err != nil {
		return fmt.Errorf("mc: %v", err)
	}
	return nil
}

// splitLocation splits a blob storage URL into the URL of its bucket
// and its key.
func splitLocation(location string) (dir, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("mc: parsing url '%s': %v", location, err)
	}
	if u.Scheme == "file" {
		return "file://" + path.Dir(u.Path), path.Base(u.Path), nil
	}
	return u.Scheme + "://" + u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// bucketWriter closes its bucket after the blob has been written.
type bucketWriter struct {
	*blob.Writer
	bucket *blob.Bucket
	cancel context.CancelFunc
}

func (w *bucketWriter) Close() error {
	err := w.Writer.Close()
	w.cancel()
	if err2 := w.bucket.Close(); err == nil {
		err = err2
	}
	return err
}

func (w *bucketWriter) Abort() error {
	w.cancel()
	w.Writer.Close() // Reports the cancellation.
	return w.bucket.Close()
}

// Open opens the file at location, which may be a local path or a
// blob storage URL.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsBlob(location) {
		f, err := os.Open(os.ExpandEnv(location))
		if err != nil {
			return nil, fmt.Errorf("mc: %v", err)
		}
		return f, nil
	}
	dir, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, dir)
	if err != nil {
		return nil, err
	}
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("mc: opening '%s': %v", location, err)
	}
	return &bucketReader{Reader: r, bucket: bucket}, nil
}

// Exists reports whether there is a file at location, which may be a
// local path or a blob storage URL.
func Exists(ctx context.Context, location string) (bool, error) {
	if !IsBlob(location) {
		_, err := os.Stat(os.ExpandEnv(location))
		if os.IsNotExist(err) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("mc: %v", err)
		}
		return true, nil
	}
	dir, key, err := splitLocation(location)
	if err != nil {
		return false, err
	}
	bucket, err := OpenBucket(ctx, dir)
	if err != nil {
		return false, err
	}
	defer bucket.Close()
	ok, err := bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("mc: checking '%s': %v", location, err)
	}
	return ok, nil
}

type bucketReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r *bucketReader) Close() error {
	err := r.Reader.Close()
	if err2 := r.bucket.Close(); err == nil {
		err = err2
	}
	return err
}
