package mqtt

import "fmt"

// Topic prefixes for the HTD Core telemetry mirror.
//
// Scheme: htd/{category}/{id}. Reading topics carry one message per
// persisted reading; the session and system topics are retained state.
const (
	// TopicPrefix is the base for all HTD Core topics.
	TopicPrefix = "htd"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "htd/system"
)

// Topics provides builders for HTD Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Reading returns the per-user topic for persisted temperature readings.
//
// Example: htd/reading/42
func (Topics) Reading(userID int64) string {
	return fmt.Sprintf("%s/reading/%d", TopicPrefix, userID)
}

// SessionStatus returns the topic for session status transitions.
//
// Example: htd/session/status
func (Topics) SessionStatus() string {
	return fmt.Sprintf("%s/session/status", TopicPrefix)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: htd/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
