package mqtt

import (
	"encoding/json"

	"github.com/takniatech/htd-core/internal/reading"
	"github.com/takniatech/htd-core/internal/session"
)

// ReadingSink mirrors persisted readings to the broker. It implements
// reading.Sink; publish failures are logged and never fail the write
// that triggered them.
type ReadingSink struct {
	client *Client
}

// NewReadingSink creates a reading sink over a connected client.
func NewReadingSink(client *Client) *ReadingSink {
	return &ReadingSink{client: client}
}

// ReadingStored publishes one persisted reading to the per-user topic.
func (s *ReadingSink) ReadingStored(r reading.TemperatureReading) {
	payload, err := json.Marshal(r)
	if err != nil {
		if logger := s.client.getLogger(); logger != nil {
			logger.Error("encoding reading for mqtt", "error", err)
		}
		return
	}
	topic := Topics{}.Reading(r.UserID)
	if err := s.client.Publish(topic, payload, byte(s.client.cfg.QoS), false); err != nil {
		if logger := s.client.getLogger(); logger != nil {
			logger.Warn("publishing reading", "topic", topic, "error", err)
		}
	}
}

// StatusSink mirrors session status transitions to the broker as a
// retained state topic. It implements session.StatusSink.
type StatusSink struct {
	client *Client
}

// NewStatusSink creates a status sink over a connected client.
func NewStatusSink(client *Client) *StatusSink {
	return &StatusSink{client: client}
}

// SessionStatus publishes the session snapshot, retained so late
// subscribers see the current state.
func (s *StatusSink) SessionStatus(st session.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		if logger := s.client.getLogger(); logger != nil {
			logger.Error("encoding session status for mqtt", "error", err)
		}
		return
	}
	if err := s.client.PublishRetained(Topics{}.SessionStatus(), payload); err != nil {
		if logger := s.client.getLogger(); logger != nil {
			logger.Warn("publishing session status", "error", err)
		}
	}
}
