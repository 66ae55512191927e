// Package media implements ingestion and retrieval of media items: two blobs
// (cover image and audio) plus the record that links them under a name.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/models"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("musicbox-media")

// BlobStore writes and streams immutable blobs.
type BlobStore interface {
	Write(ctx context.Context, r io.Reader, filename, contentType string) (*models.Blob, error)
	Open(ctx context.Context, blobID string) (*models.Blob, io.ReadCloser, error)
}

// RecordStore persists media records. CreateMedia assigns the record id.
type RecordStore interface {
	CreateMedia(ctx context.Context, rec *models.MediaRecord) error
	ListMedia(ctx context.Context) ([]*models.MediaRecord, error)
}

// CredentialStore resolves shared keys.
type CredentialStore interface {
	FindCredential(ctx context.Context, key string) (*models.Credential, error)
}

// Part is one decoded payload of an upload.
type Part struct {
	Body        io.Reader
	ContentType string
}

// Upload is a decoded ingestion request.
type Upload struct {
	Name  string
	Pic   Part
	Audio Part
}

// Validate checks the fields every upload needs.
func (u *Upload) Validate() error {
	if u.Pic.Body == nil || u.Audio.Body == nil {
		return apperr.Validation("media.validate", "pic and audio files are both required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return apperr.Validation("media.validate", "name is required")
	}
	return nil
}

// Service wires the stores together.
type Service struct {
	blobs       BlobStore
	records     RecordStore
	credentials CredentialStore
	now         func() time.Time
}

// NewService creates a media service.
func NewService(blobs BlobStore, records RecordStore, credentials CredentialStore) *Service {
	return &Service{
		blobs:       blobs,
		records:     records,
		credentials: credentials,
		now:         time.Now,
	}
}

// Ingest writes the image blob, then the audio blob, then the record. Blobs
// written before a later failure are left in place.
func (s *Service) Ingest(ctx context.Context, up *Upload) (*models.MediaRecord, error) {
	if err := up.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "media.ingest",
		trace.WithAttributes(attribute.String("name", up.Name)),
	)
	defer span.End()

	stamp := s.now().UnixMilli()

	pic, err := s.blobs.Write(ctx, up.Pic.Body, fmt.Sprintf("pic_%d", stamp), up.Pic.ContentType)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Storage("media.ingest", "Error uploading files.", err)
	}

	audio, err := s.blobs.Write(ctx, up.Audio.Body, fmt.Sprintf("audio_%d", stamp), up.Audio.ContentType)
	if err != nil {
		span.RecordError(err)
		log.WithFields(log.Fields{
			"op":     "media.ingest",
			"pic_id": pic.ID,
		}).Warn("audio write failed, image blob left orphaned")
		return nil, apperr.Storage("media.ingest", "Error uploading files.", err)
	}

	rec := &models.MediaRecord{
		Name:      up.Name,
		PicID:     pic.ID,
		AudioID:   audio.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.CreateMedia(ctx, rec); err != nil {
		span.RecordError(err)
		log.WithFields(log.Fields{
			"op":       "media.ingest",
			"pic_id":   pic.ID,
			"audio_id": audio.ID,
		}).Warn("record write failed, blobs left orphaned")
		return nil, apperr.Storage("media.ingest", "Error uploading files.", err)
	}

	span.SetAttributes(
		attribute.String("media_id", rec.ID),
		attribute.Int64("pic_size", pic.Size),
		attribute.Int64("audio_size", audio.Size),
	)
	return rec, nil
}

// List returns every record with download URLs rooted at baseURL. Records
// whose URLs cannot be built are skipped.
func (s *Service) List(ctx context.Context, baseURL string) ([]models.MediaItem, error) {
	ctx, span := tracer.Start(ctx, "media.list")
	defer span.End()

	records, err := s.records.ListMedia(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Storage("media.list", "Error retrieving music list.", err)
	}

	items := make([]models.MediaItem, 0, len(records))
	for _, rec := range records {
		item, err := listItem(baseURL, rec)
		if err != nil {
			log.WithFields(log.Fields{
				"op":       "media.list",
				"media_id": rec.ID,
				"name":     rec.Name,
			}).WithError(err).Warn("skipping media record")
			continue
		}
		items = append(items, item)
	}

	span.SetAttributes(attribute.Int("media_count", len(items)))
	return items, nil
}

func listItem(baseURL string, rec *models.MediaRecord) (models.MediaItem, error) {
	if rec.PicID == "" || rec.AudioID == "" {
		return models.MediaItem{}, fmt.Errorf("record %s has no blob reference", rec.ID)
	}
	return models.MediaItem{
		ID:       rec.ID,
		Name:     rec.Name,
		PicURL:   FileURL(baseURL, rec.PicID),
		AudioURL: FileURL(baseURL, rec.AudioID),
	}, nil
}

// FileURL returns the download URL of blobID under baseURL.
func FileURL(baseURL, blobID string) string {
	return strings.TrimRight(baseURL, "/") + "/file/" + url.PathEscape(blobID)
}

// OpenBlob returns a stream over the blob content.
func (s *Service) OpenBlob(ctx context.Context, blobID string) (*models.Blob, io.ReadCloser, error) {
	blob, rc, err := s.blobs.Open(ctx, blobID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil, err
		}
		return nil, nil, apperr.Storage("media.open_blob", "Error retrieving file.", err)
	}
	return blob, rc, nil
}

// Login resolves key to its credential. Comparison is exact.
func (s *Service) Login(ctx context.Context, key string) (*models.Credential, error) {
	if key == "" {
		return nil, apperr.Validation("media.login", "Key is required")
	}

	ctx, span := tracer.Start(ctx, "media.login")
	defer span.End()

	cred, err := s.credentials.FindCredential(ctx, key)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("media.login", "Invalid key. User not found.", err)
		}
		span.RecordError(err)
		return nil, apperr.Storage("media.login", "Server error during login.", err)
	}
	return cred, nil
}
