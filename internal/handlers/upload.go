package handlers

import (
	"net/http"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/media"
	"github.com/maneesh/musicbox/internal/metrics"
	"github.com/maneesh/musicbox/internal/models"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadHandler handles media uploads in either input shape
type UploadHandler struct {
	svc      *media.Service
	metrics  *metrics.Metrics
	maxBytes int64
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(svc *media.Service, m *metrics.Metrics, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		svc:      svc,
		metrics:  m,
		maxBytes: maxBytes,
	}
}

// UploadResponse represents the response for a successful upload
type UploadResponse struct {
	Message string              `json:"message"`
	Music   *models.MediaRecord `json:"music"`
}

// ServeHTTP handles POST /upload
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_media",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if uh.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, uh.maxBytes)
	}

	decoder := DecoderFor(r)
	span.SetAttributes(attribute.String("decoder", decoderName(decoder)))

	up, cleanup, err := decoder.Decode(r)
	defer cleanup()
	if err != nil {
		span.RecordError(err)
		uh.metrics.Upload("invalid")
		writeError(w, r, err, "Error uploading files.")
		return
	}

	rec, err := uh.svc.Ingest(ctx, up)
	if err != nil {
		span.RecordError(err)
		if apperr.IsValidation(err) {
			uh.metrics.Upload("invalid")
		} else {
			uh.metrics.Upload("error")
		}
		writeError(w, r, err, "Error uploading files.")
		return
	}

	uh.metrics.Upload("ok")
	log.WithFields(log.Fields{
		"media_id": rec.ID,
		"pic_id":   rec.PicID,
		"audio_id": rec.AudioID,
	}).Info("media uploaded")

	writeJSON(w, http.StatusOK, UploadResponse{
		Message: "Media uploaded successfully",
		Music:   rec,
	})
}

func decoderName(d Decoder) string {
	if _, ok := d.(MultipartDecoder); ok {
		return "multipart"
	}
	return "encoded"
}
