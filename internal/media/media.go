// Package media stores images submitted as base64 data URLs and serves them
// back under /api/files/.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// URLPrefix is the public path uploaded files are served from.
const URLPrefix = "/api/files/"

var (
	ErrInvalidData = errors.New("image must be a base64 data URL")
	ErrNotImage    = errors.New("file must be a png, jpeg, gif or webp image")
	ErrTooLarge    = errors.New("image exceeds maximum size")
)

// Uploader persists an image and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, dataURL string) (string, error)
	Remove(ctx context.Context, url string) error
}

// allowedTypes are the raster formats served back from URLPrefix. Script
// capable formats such as SVG are refused.
var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// LocalStore writes uploads into a directory on disk.
type LocalStore struct {
	dir     string
	maxSize int64
}

func NewLocalStore(dir string, maxSize int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, maxSize: maxSize}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

// Upload decodes dataURL, checks the sniffed content type is an allowed
// image type and writes it under a random name. The declared type in the
// URL is ignored.
func (s *LocalStore) Upload(ctx context.Context, dataURL string) (string, error) {
	data, err := decodeDataURL(dataURL, s.maxSize)
	if err != nil {
		return "", err
	}

	mt := mimetype.Detect(data)
	if !allowedTypes[mt.String()] {
		return "", ErrNotImage
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + mt.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return URLPrefix + name, nil
}

// Remove deletes a file previously returned by Upload. URLs that do not
// point into this store are ignored, as are files already gone.
func (s *LocalStore) Remove(_ context.Context, url string) error {
	name, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || name == "" || name != filepath.Base(name) {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

func decodeDataURL(dataURL string, maxSize int64) ([]byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return nil, ErrInvalidData
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") || payload == "" {
		return nil, ErrInvalidData
	}

	if maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxSize+2 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidData
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
