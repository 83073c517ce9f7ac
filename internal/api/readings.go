package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/takniatech/htd-core/internal/reading"
)

// handleListReadings returns the authenticated user's readings, newest
// first. Query parameters: kind=realtime|history filters by origin,
// device=<address> restricts to one device.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)

	if device := r.URL.Query().Get("device"); device != "" {
		rows, err := s.readings.ReadingsForDevice(ctx, uid, device)
		if err != nil {
			s.logger.Error("listing device readings", "error", err)
			writeInternalError(w, "could not load readings")
			return
		}
		writeJSON(w, http.StatusOK, filterReadings(rows, r.URL.Query().Get("kind")))
		return
	}

	rows, err := s.readings.Readings(ctx, uid)
	if err != nil {
		s.logger.Error("listing readings", "error", err)
		writeInternalError(w, "could not load readings")
		return
	}
	writeJSON(w, http.StatusOK, filterReadings(rows, r.URL.Query().Get("kind")))
}

// filterReadings applies the kind query parameter to a collection.
func filterReadings(rows []reading.TemperatureReading, kind string) []reading.TemperatureReading {
	if kind != "realtime" && kind != "history" {
		return rows
	}
	realtime := kind == "realtime"
	out := make([]reading.TemperatureReading, 0, len(rows))
	for _, row := range rows {
		if row.Realtime == realtime {
			out = append(out, row)
		}
	}
	return out
}

// wsUpgrader upgrades reading stream requests. Origins are not checked;
// auth happens in the middleware before the upgrade.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleReadingsWS streams the user's collection over a WebSocket: the
// current snapshot on connect, then every republish. Each message is
// the full collection, newest first.
func (s *Server) handleReadingsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel, err := s.readings.Subscribe(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("subscribing to readings", "error", err)
		return
	}
	defer cancel()

	// Reader loop: only there to detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case collection, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(collection); err != nil {
				return
			}
		}
	}
}
