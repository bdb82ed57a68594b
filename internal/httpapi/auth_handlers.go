package httpapi

import (
	"net/http"
	"strings"
	"time"

	"rhythmflow.app/internal/audit"
	"rhythmflow.app/internal/booking"
)

// tokenRequest stands in for the external identity provider during
// development: it names the user and role to mint a token for.
type tokenRequest struct {
	User     string `json:"user"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens || a.issuer == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	role := booking.RoleStudent
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := booking.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}

	token, expiresAt, err := a.issuer.Issue(user, role, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	if a.users != nil {
		u := booking.User{ID: user, FullName: req.FullName, Email: req.Email, Role: role}
		if err := a.users.UpsertUser(r.Context(), u); err != nil {
			handleBookingError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
		"user":       user,
		"role":       string(role),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	})
}
