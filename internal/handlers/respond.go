package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/maneesh/musicbox/internal/apperr"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("musicbox-handlers")

// MessageResponse is the body of every failure and of simple acknowledgements
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// writeError logs err with its internal cause and answers with the client-safe message only.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	entry := log.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"kind":   apperr.KindOf(err).String(),
	}).WithError(err)

	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	writeJSON(w, status, MessageResponse{Message: apperr.Message(err, fallback)})
}

// Health answers liveness probes
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// NotFound answers requests for unknown routes
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, MessageResponse{Message: "Not found"})
}

// MethodNotAllowed answers requests with an unsupported method
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, MessageResponse{Message: "Method not allowed"})
}
