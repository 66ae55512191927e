package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	gridFSBucketName     = "uploads"
	mediaCollection      = "musics"
	credentialCollection = "user"
)

type mediaDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	PicID     primitive.ObjectID `bson:"picId"`
	AudioID   primitive.ObjectID `bson:"audioId"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type credentialDoc struct {
	Key      string `bson:"key"`
	Username string `bson:"username"`
}

// MongoClient keeps media records and credentials in MongoDB and hands out a
// GridFS-backed blob store on the same database
type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoClient connects to uri and verifies the primary is reachable
func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperr.Startup("storage.open", "invalid MONGO_URI", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoClient{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client
func (mc *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return mc.client.Disconnect(ctx)
}

// Migrate creates the indexes lookups rely on
func (mc *MongoClient) Migrate(ctx context.Context) error {
	_, err := mc.db.Collection(credentialCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}
	_, err = mc.db.Collection(mediaCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create media index: %w", err)
	}
	return nil
}

// Blobs returns a GridFS blob store using chunkSize bytes per chunk
func (mc *MongoClient) Blobs(chunkSize int64) *GridFSStore {
	return &GridFSStore{db: mc.db, chunkSize: int32(chunkSize)}
}

// CreateMedia inserts a media record and sets its generated id
func (mc *MongoClient) CreateMedia(ctx context.Context, rec *models.MediaRecord) error {
	ctx, span := tracer.Start(ctx, "mongo.create_media",
		trace.WithAttributes(
			attribute.String("pic_id", rec.PicID),
			attribute.String("audio_id", rec.AudioID),
		),
	)
	defer span.End()

	doc, err := mediaDocFromRecord(rec)
	if err != nil {
		span.RecordError(err)
		return err
	}
	doc.ID = primitive.NewObjectID()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := mc.db.Collection(mediaCollection).InsertOne(ctx, doc); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert media: %w", err)
	}

	rec.ID = doc.ID.Hex()
	rec.CreatedAt = doc.CreatedAt
	return nil
}

// ListMedia returns every media record, oldest first
func (mc *MongoClient) ListMedia(ctx context.Context) ([]*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "mongo.list_media")
	defer span.End()

	cur, err := mc.db.Collection(mediaCollection).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer cur.Close(ctx)

	var records []*models.MediaRecord
	for cur.Next(ctx) {
		var doc mediaDoc
		if err := cur.Decode(&doc); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to decode media: %w", err)
		}
		records = append(records, doc.record())
	}
	if err := cur.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating media: %w", err)
	}
	return records, nil
}

// FindCredential looks up the credential holding exactly key
func (mc *MongoClient) FindCredential(ctx context.Context, key string) (*models.Credential, error) {
	ctx, span := tracer.Start(ctx, "mongo.find_credential")
	defer span.End()

	var doc credentialDoc
	err := mc.db.Collection(credentialCollection).FindOne(ctx, bson.D{{Key: "key", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("mongo.find_credential", "Invalid key. User not found.", err)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &models.Credential{Key: doc.Key, Username: doc.Username}, nil
}

// UpsertCredential creates or renames the credential for cred.Key
func (mc *MongoClient) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	_, err := mc.db.Collection(credentialCollection).UpdateOne(ctx,
		bson.D{{Key: "key", Value: cred.Key}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "username", Value: cred.Username}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func mediaDocFromRecord(rec *models.MediaRecord) (*mediaDoc, error) {
	picID, err := primitive.ObjectIDFromHex(rec.PicID)
	if err != nil {
		return nil, fmt.Errorf("invalid pic id %q: %w", rec.PicID, err)
	}
	audioID, err := primitive.ObjectIDFromHex(rec.AudioID)
	if err != nil {
		return nil, fmt.Errorf("invalid audio id %q: %w", rec.AudioID, err)
	}
	return &mediaDoc{
		Name:      rec.Name,
		PicID:     picID,
		AudioID:   audioID,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (d *mediaDoc) record() *models.MediaRecord {
	rec := &models.MediaRecord{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		CreatedAt: d.CreatedAt,
	}
	if !d.PicID.IsZero() {
		rec.PicID = d.PicID.Hex()
	}
	if !d.AudioID.IsZero() {
		rec.AudioID = d.AudioID.Hex()
	}
	return rec
}

// GridFSStore stores blobs in the "uploads" GridFS bucket
type GridFSStore struct {
	db        *mongo.Database
	chunkSize int32
}

// A Bucket carries per-instance buffers, so each operation gets its own.
func (gs *GridFSStore) bucket() (*gridfs.Bucket, error) {
	opts := options.GridFSBucket().SetName(gridFSBucketName)
	if gs.chunkSize > 0 {
		opts.SetChunkSizeBytes(gs.chunkSize)
	}
	return gridfs.NewBucket(gs.db, opts)
}

// Write streams r into a new GridFS file
func (gs *GridFSStore) Write(ctx context.Context, r io.Reader, filename, contentType string) (*models.Blob, error) {
	ctx, span := tracer.Start(ctx, "gridfs.write",
		trace.WithAttributes(
			attribute.String("filename", filename),
			attribute.String("content_type", contentType),
		),
	)
	defer span.End()

	bucket, err := gs.bucket()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	us, err := bucket.OpenUploadStream(filename,
		options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}}))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open upload stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		us.SetWriteDeadline(deadline)
	}

	n, err := io.Copy(us, &contextReader{ctx: ctx, r: r})
	if err != nil {
		us.Abort()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := us.Close(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to finish blob: %w", err)
	}

	id, ok := us.FileID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected GridFS file id %T", us.FileID)
	}

	span.SetAttributes(attribute.String("blob_id", id.Hex()), attribute.Int64("size_bytes", n))
	return &models.Blob{
		ID:          id.Hex(),
		Filename:    filename,
		ContentType: contentType,
		Size:        n,
		ChunkCount:  chunkCount(n, int64(gs.chunkSize)),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Open returns the blob metadata and a reader over its content
func (gs *GridFSStore) Open(ctx context.Context, blobID string) (*models.Blob, io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "gridfs.open",
		trace.WithAttributes(
			attribute.String("blob_id", blobID),
		),
	)
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(blobID)
	if err != nil {
		return nil, nil, apperr.NotFound("gridfs.open", "File not found", err)
	}

	bucket, err := gs.bucket()
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	ds, err := bucket.OpenDownloadStream(oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, nil, apperr.NotFound("gridfs.open", "File not found", err)
	} else if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to open download stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		ds.SetReadDeadline(deadline)
	}

	f := ds.GetFile()
	blob := &models.Blob{
		ID:          blobID,
		Filename:    f.Name,
		ContentType: "application/octet-stream",
		Size:        f.Length,
		ChunkCount:  chunkCount(f.Length, int64(f.ChunkSize)),
		CreatedAt:   f.UploadDate,
	}
	if v, err := f.Metadata.LookupErr("contentType"); err == nil {
		if ct, ok := v.StringValueOK(); ok && ct != "" {
			blob.ContentType = ct
		}
	}

	return blob, &contextReader{ctx: ctx, r: ds, c: ds}, nil
}

func chunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
	c   io.Closer
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func (cr *contextReader) Close() error {
	if cr.c == nil {
		return nil
	}
	return cr.c.Close()
}
