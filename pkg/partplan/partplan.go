// Package partplan splits an object of known size into the numbered parts of
// a multipart upload.
package partplan

import (
	"fmt"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

const (
	// DefaultChunkSize is the part size used when none is configured.
	DefaultChunkSize int64 = 5 * 1024 * 1024

	// DefaultThreshold is the size an object must exceed to be uploaded in parts.
	DefaultThreshold int64 = 5 * 1024 * 1024

	// MaxParts is the highest part number the multipart protocol accepts.
	MaxParts = 10000
)

// Part is one contiguous byte range of an object.
type Part struct {
	Number int   // 1-based
	Offset int64 // first byte
	Size   int64
}

// End returns the exclusive end offset.
func (p Part) End() int64 {
	return p.Offset + p.Size
}

// ChunkEligible reports whether an object of the given size is uploaded in
// parts rather than with a single direct put.
func ChunkEligible(size, threshold int64) bool {
	return size > threshold
}

// PartCount returns how many parts Plan would produce, or 0 for invalid input.
func PartCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Plan partitions [0, size) into parts of chunkSize bytes. Every part but the
// last is exactly chunkSize long.
func Plan(size, chunkSize int64) ([]Part, error) {
	if size <= 0 {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "size must be positive, got %d", size)
	}
	if chunkSize <= 0 {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "chunk size must be positive, got %d", chunkSize)
	}

	count := PartCount(size, chunkSize)
	if count > MaxParts {
		return nil, uploaderr.New(uploaderr.InvalidInput,
			fmt.Sprintf("%d bytes in %d byte parts needs %d parts, limit is %d", size, chunkSize, count, MaxParts))
	}

	parts := make([]Part, count)
	for i := range parts {
		offset := int64(i) * chunkSize
		length := chunkSize
		if rest := size - offset; rest < length {
			length = rest
		}
		parts[i] = Part{Number: i + 1, Offset: offset, Size: length}
	}
	return parts, nil
}
