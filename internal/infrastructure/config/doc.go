// Package config loads and validates HTD Core configuration.
//
// Configuration is a single YAML file with one section per subsystem
// (database, logging, api, mqtt, influxdb, bluetooth). Zero values for
// optional fields are replaced with defaults at load time, and secrets
// (JWT signing key, MQTT password, InfluxDB token) can be supplied via
// HTDCORE_* environment variables so they stay out of the file.
//
// The bluetooth section carries the two tuning knobs of the realtime
// pipeline: the poll interval and the dedup epsilon. Both default to the
// thermometer vendor's reference values (2s, 0.0001).
package config
