package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maneesh/musicbox/internal/media"
	"github.com/maneesh/musicbox/internal/metrics"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FileHandler streams stored blobs
type FileHandler struct {
	svc     *media.Service
	metrics *metrics.Metrics
}

// NewFileHandler creates a new file handler
func NewFileHandler(svc *media.Service, m *metrics.Metrics) *FileHandler {
	return &FileHandler{svc: svc, metrics: m}
}

// ServeHTTP handles GET /file/{id}. The blob read is bound to the request
// context, so a client disconnect stops fetching chunks.
func (fh *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "stream_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	blobID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("blob_id", blobID))

	blob, body, err := fh.svc.OpenBlob(ctx, blobID)
	if err != nil {
		span.RecordError(err)
		writeError(w, r, err, "File not found")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	if blob.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": blob.Filename}))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, body)
	fh.metrics.BlobBytesServed(n)
	if err != nil {
		// Headers are gone; the short body tells the client the transfer failed.
		span.RecordError(err)
		log.WithFields(log.Fields{
			"blob_id": blobID,
			"sent":    n,
			"size":    blob.Size,
		}).WithError(err).Warn("blob stream aborted")
		return
	}

	span.SetAttributes(attribute.Int64("bytes_sent", n))
}
