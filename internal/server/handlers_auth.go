package server

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// loginRequest is the body of POST /api/admin/login.
type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleAdminLogin serves POST /api/admin/login: verifies the operator
// password against the bcrypt hash configured in Auth.AdminPassHash and, on
// success, signs an HMAC JWT for use against the other admin endpoints.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	cfg := s.app.Config.Auth
	if cfg.AdminPassHash == "" {
		WriteError(w, http.StatusServiceUnavailable, "admin login not configured")
		return
	}

	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	passwordBytes := []byte(req.Password)
	if len(passwordBytes) > 72 {
		passwordBytes = passwordBytes[:72]
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), passwordBytes); err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	expiresAt := now.Add(cfg.GetTokenExpiry())
	claims := jwt.MapClaims{
		"sub": "operator",
		"iss": "topicforge",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to sign admin token")
		WriteError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{Token: signed, ExpiresAt: expiresAt.Unix()})
}
