// Package influxdb provides the optional time-series mirror.
//
// Every persisted temperature reading is mirrored as a point in the
// temperature measurement, tagged by user, device and realtime flag,
// timestamped from the reading itself. Writes go through the
// non-blocking batched WriteAPI; failures are reported via the error
// callback and logged, never surfaced to the persistence path.
package influxdb
