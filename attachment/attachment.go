// Package attachment stores chat uploads in a blob bucket outside any
// web-served directory. Files are only ever read back through the download
// handler.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
	_ "gocloud.dev/blob/s3blob"

	"github.com/nzlov/portalchat/message"
)

const keyPrefix = "chat/"

var (
	ErrTooLarge = errors.New("attachment too large")
	ErrNotFound = errors.New("attachment not found")
)

type Config struct {
	// Bucket is a gocloud URL such as s3://bucket?region=x. When empty the
	// local Dir is used.
	Bucket   string
	Dir      string
	MaxBytes int64
}

type Store struct {
	bucket   *blob.Bucket
	maxBytes int64
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	var (
		b   *blob.Bucket
		err error
	)
	if cfg.Bucket != "" {
		b, err = blob.OpenBucket(ctx, cfg.Bucket)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("attachment: bucket or dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, err
		}
		b, err = fileblob.OpenBucket(cfg.Dir, nil)
	}
	if err != nil {
		return nil, err
	}
	return &Store{bucket: b, maxBytes: cfg.MaxBytes}, nil
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

// Save stores an upload and returns its metadata. A missing or empty upload,
// or one whose name sanitizes to nothing, yields nil.
func (s *Store) Save(ctx context.Context, fh *multipart.FileHeader) (*message.Attachment, error) {
	if fh == nil || fh.Size == 0 {
		return nil, nil
	}
	original := strings.TrimSpace(fh.Filename)
	safe := SecureFilename(original)
	if safe == "" {
		return nil, nil
	}
	if fh.Size > s.maxBytes {
		return nil, fmt.Errorf("%s: %d bytes: %w", original, fh.Size, ErrTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%s: %w", original, ErrTooLarge)
	}
	if len(data) == 0 {
		return nil, nil
	}

	mt := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mt == "" || mt == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(safe)); byExt != "" {
			mt = byExt
		} else {
			mt = http.DetectContentType(data)
		}
	}

	key := keyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + safe
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: mt}); err != nil {
		return nil, err
	}
	zap.S().With("method", "saveAttachment").Info("stored:", key, len(data))
	return &message.Attachment{Path: key, OriginalName: original, Mime: mt}, nil
}

// CleanKey normalizes a requested path the way Open and Delete do.
func CleanKey(key string) string {
	return path.Clean("/" + key)[1:]
}

// Open returns a reader for a stored attachment path.
func (s *Store) Open(ctx context.Context, key string) (*blob.Reader, error) {
	key = CleanKey(key)
	if !strings.HasPrefix(key, keyPrefix) {
		return nil, ErrNotFound
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return r, nil
}

// Delete removes a stored attachment. A missing one is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	key = CleanKey(key)
	if !strings.HasPrefix(key, keyPrefix) {
		return ErrNotFound
	}
	err := s.bucket.Delete(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to a flat ASCII file name with no path
// components.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if len(name) > 128 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:128-len(ext)] + ext
	}
	return name
}
