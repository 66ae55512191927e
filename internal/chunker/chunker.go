package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/maneesh/musicbox/internal/models"
)

// DefaultChunkSize is used when a non-positive size is configured
const DefaultChunkSize = 256 * 1024

// Chunker splits blob payloads into fixed-size chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured chunk size in bytes
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Split reads from reader and hands each chunk to fn in order. Only the chunk
// being handed over is held in memory. It returns the total number of bytes read.
func (c *Chunker) Split(reader io.Reader, fn func(*models.ChunkData) error) (int64, error) {
	var totalSize int64
	orderIndex := 0

	for {
		buffer := make([]byte, c.chunkSize)
		n, err := io.ReadFull(reader, buffer)

		if n > 0 {
			chunkData := buffer[:n]
			chunk := &models.ChunkData{
				Data:       chunkData,
				OrderIndex: orderIndex,
				Hash:       ComputeHash(chunkData),
				Size:       int64(n),
			}
			if ferr := fn(chunk); ferr != nil {
				return totalSize, ferr
			}
			totalSize += int64(n)
			orderIndex++
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return totalSize, nil
		} else if err != nil {
			return totalSize, fmt.Errorf("error reading chunk %d: %w", orderIndex, err)
		}
	}
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
