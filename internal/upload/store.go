// Package upload stages uploaded leaf images as temporary files and removes
// them once a detection is done.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/internal/predictor"
	"github.com/agrobuddy/backend/pkg/logger"
)

const DefaultMaxBytes = 10 << 20

var (
	ErrNoImage         = errors.New("No image file provided")
	ErrTooLarge        = errors.New("File too large")
	ErrUnsupportedType = errors.New("Only image files (JPEG, JPG, PNG) are allowed!")
)

var (
	allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	allowedMIMETypes  = map[string]bool{"image/jpeg": true, "image/jpg": true, "image/png": true}
)

// File is a staged upload on disk.
type File struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
}

// Image reads the staged file into a predictor image.
func (f *File) Image() (predictor.Image, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return predictor.Image{}, fmt.Errorf("failed to read staged upload: %w", err)
	}
	return predictor.Image{Data: data, Filename: f.Filename, ContentType: f.ContentType}, nil
}

type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	logger.Info("Upload store initialized",
		zap.String("dir", dir),
		zap.String("max_size", humanize.IBytes(uint64(maxBytes))),
	)

	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string     { return s.dir }
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Validate checks the name, declared MIME type and size of an upload. Both
// the extension and the MIME type must name a JPEG or PNG image.
func (s *Store) Validate(filename, contentType string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))

	if !allowedExtensions[ext] || !allowedMIMETypes[mimeType] {
		metrics.UploadsRejected.WithLabelValues("type").Inc()
		return fmt.Errorf("%w: got %q (%s)", ErrUnsupportedType, filename, contentType)
	}
	if size > s.maxBytes {
		metrics.UploadsRejected.WithLabelValues("size").Inc()
		return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxBytes)))
	}
	return nil
}

// Save validates a multipart upload and copies it into the store.
func (s *Store) Save(fh *multipart.FileHeader) (*File, error) {
	if fh == nil {
		metrics.UploadsRejected.WithLabelValues("missing").Inc()
		return nil, ErrNoImage
	}
	contentType := fh.Header.Get("Content-Type")
	if err := s.Validate(fh.Filename, contentType, fh.Size); err != nil {
		return nil, err
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	return s.write(fh.Filename, contentType, src)
}

// SaveBytes stages raw image bytes, sniffing the MIME type when contentType
// is empty.
func (s *Store) SaveBytes(filename, contentType string, data []byte) (*File, error) {
	if len(data) == 0 {
		metrics.UploadsRejected.WithLabelValues("missing").Inc()
		return nil, ErrNoImage
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if err := s.Validate(filename, contentType, int64(len(data))); err != nil {
		return nil, err
	}

	return s.write(filename, contentType, bytes.NewReader(data))
}

func (s *Store) write(filename, contentType string, src io.Reader) (*File, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.dir, "leaf-"+uuid.NewString()+ext)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged upload: %w", err)
	}

	n, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		metrics.UploadsRejected.WithLabelValues("size").Inc()
		err = fmt.Errorf("%w: more than %s", ErrTooLarge, humanize.IBytes(uint64(s.maxBytes)))
	}
	if err != nil {
		s.Release(&File{Path: path})
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to write staged upload: %w", err)
	}

	logger.Debug("Upload staged",
		zap.String("path", path),
		zap.String("filename", filename),
		zap.String("size", humanize.IBytes(uint64(n))),
	)

	return &File{Path: path, Filename: filename, ContentType: contentType, Size: n}, nil
}

// Release removes a staged file. Failures are logged and counted, never
// returned; a file that is already gone is not a failure.
func (s *Store) Release(f *File) {
	if f == nil || f.Path == "" {
		return
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		metrics.UploadCleanupFailures.Inc()
		logger.Warn("Failed to remove staged upload", zap.String("path", f.Path), zap.Error(err))
	}
}

// IsValidationError reports whether err rejects the upload itself rather
// than signalling a server failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoImage) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrUnsupportedType)
}

// Reason returns the client-facing message for a validation error.
func Reason(err error) string {
	for _, e := range []error{ErrNoImage, ErrTooLarge, ErrUnsupportedType} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "Invalid upload"
}
