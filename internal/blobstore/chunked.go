// Package blobstore implements the chunked blob store: payloads are split
// into fixed-size chunks kept as objects, indexed by a manifest committed
// only after every chunk landed.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/chunker"
	"github.com/maneesh/musicbox/internal/models"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("musicbox-blobstore")

// ChunkStore holds chunk payloads by object key.
type ChunkStore interface {
	PutChunk(ctx context.Context, objectKey string, data []byte) error
	GetChunk(ctx context.Context, objectKey string) ([]byte, error)
	DeleteChunk(ctx context.Context, objectKey string) error
}

// ManifestStore persists manifests. GetManifest returns an apperr NotFound
// error for unknown ids.
type ManifestStore interface {
	CreateManifest(ctx context.Context, m *models.Manifest) error
	GetManifest(ctx context.Context, blobID string) (*models.Manifest, error)
}

// ManifestCache is an optional read-through cache. GetManifest returns nil, nil on a miss.
type ManifestCache interface {
	GetManifest(ctx context.Context, blobID string) (*models.Manifest, error)
	SetManifest(ctx context.Context, m *models.Manifest) error
}

// Chunked is a blob store over a ChunkStore and a ManifestStore.
type Chunked struct {
	chunks      ChunkStore
	manifests   ManifestStore
	cache       ManifestCache
	chunker     *chunker.Chunker
	concurrency int
	now         func() time.Time
}

// Option configures a Chunked store.
type Option func(*Chunked)

// WithCache enables manifest caching.
func WithCache(cache ManifestCache) Option {
	return func(c *Chunked) { c.cache = cache }
}

// WithConcurrency bounds the number of chunk uploads in flight per write.
func WithConcurrency(n int) Option {
	return func(c *Chunked) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewChunked creates a chunked blob store.
func NewChunked(chunks ChunkStore, manifests ManifestStore, ch *chunker.Chunker, opts ...Option) *Chunked {
	c := &Chunked{
		chunks:      chunks,
		manifests:   manifests,
		chunker:     ch,
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func objectKey(blobID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", blobID, index)
}

// Write chunks r, uploads every chunk and then commits the manifest. When any
// step fails the uploaded chunks are removed and no id is returned.
func (c *Chunked) Write(ctx context.Context, r io.Reader, filename, contentType string) (*models.Blob, error) {
	blobID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "blob.write",
		trace.WithAttributes(
			attribute.String("blob_id", blobID),
			attribute.String("filename", filename),
		),
	)
	defer span.End()

	var uploaded []*models.Chunk
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	total, splitErr := c.chunker.Split(r, func(cd *models.ChunkData) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		chunk := &models.Chunk{
			BlobID:     blobID,
			OrderIndex: cd.OrderIndex,
			Hash:       cd.Hash,
			ObjectKey:  objectKey(blobID, cd.OrderIndex),
			Size:       cd.Size,
		}
		uploaded = append(uploaded, chunk)
		data := cd.Data
		g.Go(func() error {
			return c.chunks.PutChunk(gctx, chunk.ObjectKey, data)
		})
		return nil
	})
	uploadErr := g.Wait()

	err := splitErr
	if uploadErr != nil {
		err = uploadErr
	}
	if err != nil {
		span.RecordError(err)
		c.discard(blobID, uploaded)
		return nil, apperr.Storage("blob.write", "failed to store blob", err)
	}

	m := &models.Manifest{
		Blob: models.Blob{
			ID:          blobID,
			Filename:    filename,
			ContentType: contentType,
			Size:        total,
			ChunkCount:  len(uploaded),
			CreatedAt:   c.now().UTC(),
		},
		Chunks: uploaded,
	}
	if err := c.manifests.CreateManifest(ctx, m); err != nil {
		span.RecordError(err)
		c.discard(blobID, uploaded)
		return nil, apperr.Storage("blob.write", "failed to index blob", err)
	}

	span.SetAttributes(
		attribute.Int64("size_bytes", total),
		attribute.Int("chunk_count", len(uploaded)),
	)
	return &m.Blob, nil
}

// discard removes chunks of a failed write. It runs detached from the request
// context, which may already be cancelled.
func (c *Chunked) discard(blobID string, chunks []*models.Chunk) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, chunk := range chunks {
		if err := c.chunks.DeleteChunk(ctx, chunk.ObjectKey); err != nil {
			log.WithFields(log.Fields{
				"blob_id":    blobID,
				"object_key": chunk.ObjectKey,
			}).WithError(err).Warn("failed to remove chunk of aborted write")
		}
	}
}

// Open resolves the manifest of blobID and returns a reader that fetches
// chunks one at a time as they are consumed. Reads stop with ctx.
func (c *Chunked) Open(ctx context.Context, blobID string) (*models.Blob, io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "blob.open",
		trace.WithAttributes(
			attribute.String("blob_id", blobID),
		),
	)
	defer span.End()

	if _, err := uuid.Parse(blobID); err != nil {
		return nil, nil, apperr.NotFound("blob.open", "File not found", err)
	}

	m, err := c.manifest(ctx, blobID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	blob := m.Blob
	return &blob, &chunkReader{ctx: ctx, store: c.chunks, chunks: m.Chunks}, nil
}

func (c *Chunked) manifest(ctx context.Context, blobID string) (*models.Manifest, error) {
	if c.cache != nil {
		m, err := c.cache.GetManifest(ctx, blobID)
		if err != nil {
			log.WithField("blob_id", blobID).WithError(err).Warn("manifest cache lookup failed")
		} else if m != nil {
			return m, nil
		}
	}

	m, err := c.manifests.GetManifest(ctx, blobID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Storage("blob.open", "failed to load blob", err)
	}

	if c.cache != nil {
		if err := c.cache.SetManifest(ctx, m); err != nil {
			log.WithField("blob_id", blobID).WithError(err).Warn("failed to cache manifest")
		}
	}
	return m, nil
}

// chunkReader yields the chunks of one manifest in order, verifying each hash.
type chunkReader struct {
	ctx    context.Context
	store  ChunkStore
	chunks []*models.Chunk
	next   int
	buf    []byte
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	for len(cr.buf) == 0 {
		if cr.next >= len(cr.chunks) {
			return 0, io.EOF
		}
		if err := cr.ctx.Err(); err != nil {
			return 0, err
		}

		chunk := cr.chunks[cr.next]
		data, err := cr.store.GetChunk(cr.ctx, chunk.ObjectKey)
		if err != nil {
			return 0, err
		}
		if !chunker.VerifyChunkHash(data, chunk.Hash) {
			return 0, fmt.Errorf("hash mismatch for chunk %d of blob %s", chunk.OrderIndex, chunk.BlobID)
		}
		cr.buf = data
		cr.next++
	}

	n := copy(p, cr.buf)
	cr.buf = cr.buf[n:]
	return n, nil
}

func (cr *chunkReader) Close() error {
	cr.next = len(cr.chunks)
	cr.buf = nil
	return nil
}
