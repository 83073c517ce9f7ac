// Package mqtt provides the optional MQTT telemetry mirror.
//
// The client wraps paho.mqtt.golang with auto-reconnect, Last Will and
// Testament on htd/system/status, and bounded publish timeouts. Two
// sinks adapt it to the rest of the system: ReadingSink mirrors every
// persisted temperature reading to htd/reading/<user>, StatusSink
// mirrors session status transitions to htd/session/status as retained
// state. The mirror is disabled by default and every consumer tolerates
// its absence.
package mqtt
