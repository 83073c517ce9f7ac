package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/takniatech/htd-core/internal/session"
)

// requireSession guards the device endpoints when bluetooth is disabled.
func (s *Server) requireSession(w http.ResponseWriter) bool {
	if s.session == nil {
		writeUnavailable(w, "bluetooth support is disabled")
		return false
	}
	return true
}

// handleScanStart begins a bounded device discovery scan.
func (s *Server) handleScanStart(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	if err := s.session.StartSearch(); err != nil {
		s.logger.Error("starting scan", "error", err)
		writeInternalError(w, "could not start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scanning": true})
}

// handleScanStop cancels the active scan.
func (s *Server) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	if err := s.session.StopSearch(); err != nil {
		s.logger.Error("stopping scan", "error", err)
		writeInternalError(w, "could not stop scan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scanning": false})
}

// handleScanDevices returns the current discovery snapshot.
func (s *Server) handleScanDevices(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.session.SearchState())
}

// connectRequest is the request body for POST /api/device/connect.
type connectRequest struct {
	Address string `json:"address"`
}

// handleDeviceConnect targets a device by address. A second connect
// while one is established is rejected, not queued.
func (s *Server) handleDeviceConnect(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	// The session owner follows the caller so persisted readings land
	// on the right account.
	s.session.SetCurrentUser(userID(r))

	if err := s.session.Connect(req.Address); err != nil {
		if errors.Is(err, session.ErrAlreadyConnected) {
			writeConflict(w, "a device is already connected")
			return
		}
		s.logger.Error("connecting to device", "address", req.Address, "error", err)
		writeInternalError(w, "could not connect")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"address": req.Address})
}

// handleDeviceDisconnect drops the active connection.
func (s *Server) handleDeviceDisconnect(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	if err := s.session.Disconnect(); err != nil {
		s.logger.Error("disconnecting device", "error", err)
		writeInternalError(w, "could not disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}

// handleSessionStatus returns the session snapshot: status code and
// message, sync flag, storage total and the last operation error.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}
