package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maneesh/musicbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(context.Background(), mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestManifestCacheRoundTrip(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	miss, err := rc.GetManifest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, miss)

	m := &models.Manifest{
		Blob: models.Blob{ID: "b1", Filename: "pic_1", ContentType: "image/jpeg", Size: 3, ChunkCount: 1},
		Chunks: []*models.Chunk{
			{BlobID: "b1", OrderIndex: 0, Hash: "abc", ObjectKey: "chunks/b1/0", Size: 3},
		},
	}
	require.NoError(t, rc.SetManifest(ctx, m))

	got, err := rc.GetManifest(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Blob.ContentType, got.Blob.ContentType)
	assert.Equal(t, "chunks/b1/0", got.Chunks[0].ObjectKey)
}

func TestManifestCacheExpires(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.SetManifest(ctx, &models.Manifest{Blob: models.Blob{ID: "b2"}}))
	mr.FastForward(2 * time.Minute)

	got, err := rc.GetManifest(ctx, "b2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManifestCacheCorruptEntry(t *testing.T) {
	mr, rc := newTestRedis(t)
	require.NoError(t, mr.Set("blob:bad", "{not json"))

	_, err := rc.GetManifest(context.Background(), "bad")
	assert.Error(t, err)
}
