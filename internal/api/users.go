package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/takniatech/htd-core/internal/user"
)

// handleGetMe returns the authenticated user's profile.
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.GetByID(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("loading user profile", "error", err)
		writeInternalError(w, "could not load profile")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// updateMeRequest is the request body for PUT /api/users/me.
// The email and password are immutable through this endpoint.
type updateMeRequest struct {
	Name            string  `json:"name"`
	DateOfBirth     string  `json:"date_of_birth"`
	Gender          string  `json:"gender"`
	Weight          float64 `json:"weight"`
	Height          float64 `json:"height"`
	ProfileImageURI *string `json:"profile_image_uri"`
}

// handleUpdateMe updates the authenticated user's profile.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	u, err := s.users.GetByID(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("loading user for update", "error", err)
		writeInternalError(w, "could not update profile")
		return
	}

	u.Name = req.Name
	u.DateOfBirth = req.DateOfBirth
	u.Gender = req.Gender
	u.Weight = req.Weight
	u.Height = req.Height
	u.ProfileImageURI = req.ProfileImageURI

	if err := s.users.Update(r.Context(), u); err != nil {
		s.logger.Error("updating user profile", "error", err)
		writeInternalError(w, "could not update profile")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
