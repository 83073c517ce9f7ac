// Package reading stores and serves temperature readings.
//
// # Architecture
//
// Three layers, storage at the bottom:
//
//   - Repository (repository.go): SQLite persistence. History imports are
//     transactional and deduplicate on (timestamp, device_address).
//   - Registry (registry.go): per-user reactive collections over the
//     Repository. Writes go through to storage, then the full collection
//     is re-fetched and republished (invalidate-and-reload; write volume
//     is a handful of rows per poll cycle, so correctness wins over
//     incremental patching).
//   - Sinks: optional fan-out of stored readings to telemetry mirrors
//     (MQTT, InfluxDB). Sink failures never fail a write.
//
// Subscribers always receive the current collection immediately on
// subscription and every republish thereafter, newest reading first.
package reading
