package main

import (
	"context"
	"fmt"

	"github.com/maneesh/musicbox/internal/blobstore"
	"github.com/maneesh/musicbox/internal/chunker"
	"github.com/maneesh/musicbox/internal/config"
	"github.com/maneesh/musicbox/internal/media"
	"github.com/maneesh/musicbox/internal/models"
	"github.com/maneesh/musicbox/internal/storage"
	log "github.com/sirupsen/logrus"
)

type metadataStore interface {
	media.RecordStore
	media.CredentialStore
	Migrate(ctx context.Context) error
	UpsertCredential(ctx context.Context, cred *models.Credential) error
}

// backend holds the storage clients shared by every request handler
type backend struct {
	blobs    media.BlobStore
	metadata metadataStore
	closers  []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Printf("Error closing storage client: %v", err)
		}
	}
}

// openBackend connects the storage selected by cfg.StorageBackend
func openBackend(ctx context.Context, cfg *config.Config, withBlobs bool) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendGridFS:
		return openGridFS(ctx, cfg)
	case config.BackendChunked:
		return openChunked(ctx, cfg, withBlobs)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func openGridFS(ctx context.Context, cfg *config.Config) (*backend, error) {
	log.Println("Connecting to MongoDB...")
	mongoClient, err := storage.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB client: %w", err)
	}
	log.Println("MongoDB client initialized, GridFS bucket: uploads")

	return &backend{
		blobs:    mongoClient.Blobs(cfg.GetChunkSizeBytes()),
		metadata: mongoClient,
		closers:  []func() error{mongoClient.Close},
	}, nil
}

func openChunked(ctx context.Context, cfg *config.Config, withBlobs bool) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	log.Println("Connecting to MySQL/TiDB...")
	sqlClient, err := storage.NewSQLClient(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQL client: %w", err)
	}
	b.closers = append(b.closers, sqlClient.Close)
	b.metadata = sqlClient

	if !withBlobs {
		return b, nil
	}

	log.Println("Connecting to MinIO...")
	minioClient, err := storage.NewMinioClient(ctx,
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	opts := []blobstore.Option{blobstore.WithConcurrency(cfg.UploadConcurrency)}
	if cfg.RedisAddr != "" {
		log.Println("Connecting to Redis...")
		redisClient, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		b.closers = append(b.closers, redisClient.Close)
		opts = append(opts, blobstore.WithCache(redisClient))
	} else {
		log.Println("REDIS_ADDR not set, manifest cache disabled")
	}

	b.blobs = blobstore.NewChunked(minioClient, sqlClient, chunker.NewChunker(cfg.GetChunkSizeBytes()), opts...)
	return b, nil
}
