package chunkvault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Source is the content of one upload. Parts are read with ReadAt, so a
// source must tolerate concurrent reads at different offsets.
type Source interface {
	io.ReaderAt
	Name() string
	Size() int64
	ContentType() string
}

// FileSource is a Source backed by a file on disk.
type FileSource struct {
	file        *os.File
	name        string
	size        int64
	contentType string
}

// OpenFile opens path for upload. The content type is detected from the
// file's leading bytes.
func OpenFile(path string) (*FileSource, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, &ValidationError{Field: "path", Message: "is a directory"}
	}

	name := filepath.Base(absPath)
	if err := validateFilename(name); err != nil {
		file.Close()
		return nil, err
	}

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("detecting content type: %w", err)
	}

	return &FileSource{
		file:        file,
		name:        name,
		size:        info.Size(),
		contentType: mtype.String(),
	}, nil
}

func (s *FileSource) Name() string        { return s.name }
func (s *FileSource) Size() int64         { return s.size }
func (s *FileSource) ContentType() string { return s.contentType }

// ReadAt reads from the underlying file; os.File.ReadAt is safe for
// concurrent use.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}

// BytesSource is an in-memory Source.
type BytesSource struct {
	*bytes.Reader
	name        string
	contentType string
}

// NewBytesSource wraps data. An empty contentType is detected from data.
func NewBytesSource(name, contentType string, data []byte) *BytesSource {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return &BytesSource{Reader: bytes.NewReader(data), name: name, contentType: contentType}
}

func (s *BytesSource) Name() string        { return s.name }
func (s *BytesSource) ContentType() string { return s.contentType }

// validateFilename validates a filename.
func validateFilename(name string) error {
	if name == "" {
		return &ValidationError{Field: "filename", Message: "cannot be empty"}
	}
	if len(name) > 255 {
		return &ValidationError{Field: "filename", Message: "cannot exceed 255 characters"}
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return &ValidationError{Field: "filename", Message: "must not contain path separators"}
	}
	return nil
}
