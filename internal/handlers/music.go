package handlers

import (
	"net/http"

	"github.com/maneesh/musicbox/internal/media"
)

// ListHandler lists media with download URLs
type ListHandler struct {
	svc     *media.Service
	baseURL string
}

// NewListHandler creates a list handler. An empty baseURL derives the URL
// root from each request.
func NewListHandler(svc *media.Service, baseURL string) *ListHandler {
	return &ListHandler{svc: svc, baseURL: baseURL}
}

// ServeHTTP handles GET /music
func (lh *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	items, err := lh.svc.List(r.Context(), lh.requestBaseURL(r))
	if err != nil {
		writeError(w, r, err, "Error retrieving music list.")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (lh *ListHandler) requestBaseURL(r *http.Request) string {
	if lh.baseURL != "" {
		return lh.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
