package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/takniatech/htd-core/internal/infrastructure/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	if got := topics.Reading(42); got != "htd/reading/42" {
		t.Errorf("Reading(42) = %q", got)
	}
	if got := topics.SessionStatus(); got != "htd/session/status" {
		t.Errorf("SessionStatus() = %q", got)
	}
	if got := topics.SystemStatus(); got != "htd/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("htd/reading/1", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v, want ErrInvalidQoS", err)
	}
	oversized := make([]byte, maxPayloadSize+1)
	if err := c.Publish("htd/reading/1", oversized, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 1883, ClientID: "htdcore"},
		Auth:   config.MQTTAuthConfig{Username: "htd", Password: "secret"},
		QoS:    1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "tcp" {
		t.Fatalf("servers = %v, want one tcp broker", opts.Servers)
	}
	if opts.ClientID != "htdcore" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if opts.Username != "htd" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect not enabled")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("tls scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("tls config not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := config.MQTTConfig{Broker: config.MQTTBrokerConfig{ClientID: "htdcore"}}
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("LWT not enabled")
	}
	if opts.WillTopic != "htd/system/status" {
		t.Errorf("will topic = %q", opts.WillTopic)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("will payload = %q", opts.WillPayload)
	}
	if !opts.WillRetained {
		t.Error("will not retained")
	}
}
