package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/takniatech/htd-core/internal/user"
)

// signupRequest is the request body for POST /api/auth/signup.
type signupRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Name        string  `json:"name"`
	DateOfBirth string  `json:"date_of_birth"`
	Gender      string  `json:"gender"`
	Weight      float64 `json:"weight"`
	Height      float64 `json:"height"`
}

// loginRequest is the request body for POST /api/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /api/auth/login.
type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *user.User `json:"user"`
}

// handleSignup creates a new user account. Email uniqueness is checked
// before insertion; a duplicate address produces an inline 409 message.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	u := &user.User{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		Weight:      req.Weight,
		Height:      req.Height,
	}

	if _, err := user.SignUp(r.Context(), s.users, u); err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			writeConflict(w, "an account with this email already exists")
		case errors.Is(err, user.ErrInvalidUser):
			writeBadRequest(w, "email, password and name are required")
		default:
			s.logger.Error("signup failed", "error", err)
			writeInternalError(w, "could not create account")
		}
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// handleLogin authenticates a user and returns a JWT access token.
// The logged-in user id is persisted to the settings store and handed
// to the session manager as the owner of subsequent readings.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	u, err := s.users.GetByCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			// Unknown email and wrong password are indistinguishable.
			writeUnauthorized(w, "invalid email or password")
			return
		}
		s.logger.Error("login lookup failed", "error", err)
		writeInternalError(w, "could not log in")
		return
	}

	ttl := s.cfg.JWT.ExpiryMins
	signed, err := generateToken(u.ID, s.cfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeInternalError(w, "could not log in")
		return
	}

	if err := s.settings.SaveUserID(r.Context(), u.ID); err != nil {
		// The login still succeeds; only launch-time restore is affected.
		s.logger.Warn("persisting logged-in user", "error", err)
	}
	if s.session != nil {
		s.session.SetCurrentUser(u.ID)
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
		User:        u,
	})
}
