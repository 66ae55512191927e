package handlers

import (
	"net/http"

	"github.com/maneesh/musicbox/internal/media"
)

// LoginHandler resolves a shared key to its username
type LoginHandler struct {
	svc *media.Service
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(svc *media.Service) *LoginHandler {
	return &LoginHandler{svc: svc}
}

const maxLoginBody = 64 << 10

type loginRequest struct {
	Key string `json:"key"`
}

// LoginResponse is returned on a matching key
type LoginResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ServeHTTP handles POST /login
func (lh *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "Key is required")
		return
	}

	cred, err := lh.svc.Login(r.Context(), req.Key)
	if err != nil {
		writeError(w, r, err, "Server error during login.")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message:  "Login Ok, Welcome",
		Username: cred.Username,
	})
}
