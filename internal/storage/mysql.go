package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS blobs (
		id CHAR(36) NOT NULL PRIMARY KEY,
		filename VARCHAR(255) NOT NULL,
		content_type VARCHAR(255) NOT NULL,
		size BIGINT NOT NULL,
		chunk_count INT NOT NULL,
		created_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blob_chunks (
		blob_id CHAR(36) NOT NULL,
		order_index INT NOT NULL,
		hash CHAR(64) NOT NULL,
		object_key VARCHAR(512) NOT NULL,
		size BIGINT NOT NULL,
		PRIMARY KEY (blob_id, order_index)
	)`,
	`CREATE TABLE IF NOT EXISTS media (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(1024) NOT NULL,
		pic_id VARCHAR(64) NOT NULL,
		audio_id VARCHAR(64) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY idx_media_created_at (created_at)
	)`,
	// utf8mb4_bin keeps key comparison case-sensitive.
	`CREATE TABLE IF NOT EXISTS users (
		secret_key VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
		username VARCHAR(255) NOT NULL
	)`,
}

const (
	insertBlobQuery   = `INSERT INTO blobs (id, filename, content_type, size, chunk_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	insertChunkQuery  = `INSERT INTO blob_chunks (blob_id, order_index, hash, object_key, size) VALUES (?, ?, ?, ?, ?)`
	selectBlobQuery   = `SELECT id, filename, content_type, size, chunk_count, created_at FROM blobs WHERE id = ?`
	selectChunksQuery = `SELECT blob_id, order_index, hash, object_key, size FROM blob_chunks WHERE blob_id = ? ORDER BY order_index ASC`
	insertMediaQuery  = `INSERT INTO media (id, name, pic_id, audio_id, created_at) VALUES (?, ?, ?, ?, ?)`
	selectMediaQuery  = `SELECT id, name, pic_id, audio_id, created_at FROM media ORDER BY created_at ASC, id ASC`
	selectUserQuery   = `SELECT secret_key, username FROM users WHERE secret_key = ?`
	upsertUserQuery   = `INSERT INTO users (secret_key, username) VALUES (?, ?) ON DUPLICATE KEY UPDATE username = VALUES(username)`
)

// SQLClient keeps blob manifests, media records and credentials in MySQL/TiDB
type SQLClient struct {
	db *sql.DB
}

// NewSQLClient opens a pooled connection for dsn and verifies it
func NewSQLClient(ctx context.Context, dsn string) (*SQLClient, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, apperr.Startup("storage.open", "invalid DATABASE_DSN", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLClientFromDB(db), nil
}

// NewSQLClientFromDB wraps an existing handle
func NewSQLClientFromDB(db *sql.DB) *SQLClient {
	return &SQLClient{db: db}
}

// Close closes the database connection
func (sc *SQLClient) Close() error {
	return sc.db.Close()
}

// Migrate creates the tables if they do not exist
func (sc *SQLClient) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := sc.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// CreateManifest inserts a blob row and its chunk rows in one transaction
func (sc *SQLClient) CreateManifest(ctx context.Context, m *models.Manifest) (err error) {
	ctx, span := tracer.Start(ctx, "sql.create_manifest",
		trace.WithAttributes(
			attribute.String("blob_id", m.Blob.ID),
			attribute.Int("chunk_count", len(m.Chunks)),
		),
	)
	defer span.End()

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			tx.Rollback()
		}
	}()

	b := m.Blob
	if _, err = tx.ExecContext(ctx, insertBlobQuery, b.ID, b.Filename, b.ContentType, b.Size, b.ChunkCount, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert blob: %w", err)
	}

	for _, c := range m.Chunks {
		if _, err = tx.ExecContext(ctx, insertChunkQuery, c.BlobID, c.OrderIndex, c.Hash, c.ObjectKey, c.Size); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.OrderIndex, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

// GetManifest loads a blob and its chunks ordered by index
func (sc *SQLClient) GetManifest(ctx context.Context, blobID string) (*models.Manifest, error) {
	ctx, span := tracer.Start(ctx, "sql.get_manifest",
		trace.WithAttributes(
			attribute.String("blob_id", blobID),
		),
	)
	defer span.End()

	var m models.Manifest
	err := sc.db.QueryRowContext(ctx, selectBlobQuery, blobID).Scan(
		&m.Blob.ID,
		&m.Blob.Filename,
		&m.Blob.ContentType,
		&m.Blob.Size,
		&m.Blob.ChunkCount,
		&m.Blob.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, apperr.NotFound("sql.get_manifest", "File not found", err)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query blob: %w", err)
	}

	rows, err := sc.db.QueryContext(ctx, selectChunksQuery, blobID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.BlobID, &c.OrderIndex, &c.Hash, &c.ObjectKey, &c.Size); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		m.Chunks = append(m.Chunks, &c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	if len(m.Chunks) != m.Blob.ChunkCount {
		return nil, fmt.Errorf("blob %s: manifest lists %d chunks, found %d", blobID, m.Blob.ChunkCount, len(m.Chunks))
	}
	return &m, nil
}

// CreateMedia inserts a media record, assigning its id when empty
func (sc *SQLClient) CreateMedia(ctx context.Context, rec *models.MediaRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "sql.create_media",
		trace.WithAttributes(
			attribute.String("media_id", rec.ID),
			attribute.String("pic_id", rec.PicID),
			attribute.String("audio_id", rec.AudioID),
		),
	)
	defer span.End()

	if _, err := sc.db.ExecContext(ctx, insertMediaQuery, rec.ID, rec.Name, rec.PicID, rec.AudioID, rec.CreatedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert media: %w", err)
	}
	return nil
}

// ListMedia returns every media record, oldest first
func (sc *SQLClient) ListMedia(ctx context.Context) ([]*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.list_media")
	defer span.End()

	rows, err := sc.db.QueryContext(ctx, selectMediaQuery)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	var records []*models.MediaRecord
	for rows.Next() {
		var rec models.MediaRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.PicID, &rec.AudioID, &rec.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating media: %w", err)
	}

	span.SetAttributes(attribute.Int("media_count", len(records)))
	return records, nil
}

// FindCredential looks up the credential holding exactly key
func (sc *SQLClient) FindCredential(ctx context.Context, key string) (*models.Credential, error) {
	ctx, span := tracer.Start(ctx, "sql.find_credential")
	defer span.End()

	var cred models.Credential
	err := sc.db.QueryRowContext(ctx, selectUserQuery, key).Scan(&cred.Key, &cred.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("sql.find_credential", "Invalid key. User not found.", err)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	// PAD SPACE collations ignore trailing blanks.
	if cred.Key != key {
		return nil, apperr.NotFound("sql.find_credential", "Invalid key. User not found.", nil)
	}
	return &cred, nil
}

// UpsertCredential creates or renames the credential for cred.Key
func (sc *SQLClient) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	if _, err := sc.db.ExecContext(ctx, upsertUserQuery, cred.Key, cred.Username); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
