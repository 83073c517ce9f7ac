// Package peripheral defines the boundary to the thermometer hardware.
//
// The vendor protocol is callback driven: requests are fire-and-forget
// methods on the Peripheral interface and every result arrives through
// the Events sink. The wire format is opaque here; implementations
// decode frames into the typed callback values before they cross this
// boundary. The session manager consumes Events, a transport adapter
// (see the ble subpackage) produces them.
package peripheral
