package peripheral

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Operation ids reported with operation failures.
const (
	OpSetTime     = 0
	OpStorageInfo = 1
	OpHistoryData = 2
)

// Known vendor error codes carried by OnOperationFail.
const (
	ErrCodeNoConnection   = 0
	ErrCodeFail           = 1
	ErrCodeSendTimeout    = 830000
	ErrCodeReplyTimeout   = 900000
	ErrCodeNotifyTimeout  = 910001
)

// Search error causes reported by OnSearchError.
const (
	SearchErrUnsupported  = 0 // hardware has no usable BLE adapter
	SearchErrBluetoothOff = 1 // adapter present but disabled
)

// DiscoveredDevice is one scan result. Transient, never persisted.
type DiscoveredDevice struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`

	// HasNewData is set when the advertisement payload carries the
	// vendor's unread-data marker.
	HasNewData bool `json:"has_new_data"`
}

// HistoryRecord is one device-resident reading as reported by the
// peripheral, calendar fields and all.
type HistoryRecord struct {
	Year     int
	Month    int // 1-12
	Day      int
	Hour     int
	Minute   int
	Second   int
	UnitCode int // 0 celsius, 1 fahrenheit
	Temp     string
}

// RealtimeSample is one live measurement as reported by the peripheral.
// Temp keeps the vendor's string form, which may embed a unit suffix.
type RealtimeSample struct {
	Temp     string
	RawState string  // vendor status code as reported, numeric text
	Error    *string // device-side error, nil when the sample is clean
}

// Value extracts the numeric temperature, tolerating a trailing unit
// marker in either case. The second return reports whether the vendor
// string parsed; callers decide what an unreadable temperature means.
func (s RealtimeSample) Value() (float64, bool) {
	text := strings.TrimSpace(s.Temp)
	if n := len(text); n > 0 {
		switch text[n-1] {
		case 'C', 'F', 'c', 'f':
			text = strings.TrimSpace(text[:n-1])
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Unit returns "F" when the reported string carries a fahrenheit marker
// in either case, "C" otherwise.
func (s RealtimeSample) Unit() string {
	if strings.ContainsAny(s.Temp, "Ff") {
		return "F"
	}
	return "C"
}

// State parses the raw vendor status code. Nil when absent or unparsable.
func (s RealtimeSample) State() *int64 {
	text := strings.TrimSpace(s.RawState)
	if text == "" {
		return nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Events is the result sink for all asynchronous peripheral outcomes.
// Implementations must not block; callbacks arrive on the transport's
// notification context.
type Events interface {
	// Discovery.
	OnDeviceFound(d DiscoveredDevice)
	OnSearchError(cause int)
	OnSearchComplete()

	// Connection status stream.
	OnConnectStatus(status ConnectStatus)

	// Operation outcomes.
	OnOperationFail(op int, code int)
	OnSetTimeSuccess()
	OnStorageInfoSuccess(count int)
	OnHistoryData(records []HistoryRecord)
	OnHistoryDataEmpty()
	OnRealtimeData(sample RealtimeSample)
}

// Peripheral is the request side of the vendor protocol. Methods return
// an error only for local request failures; protocol outcomes arrive
// through Events.
type Peripheral interface {
	// Init prepares the transport and registers the event sink.
	Init(ctx context.Context, events Events) error

	// StartSearch begins a bounded scan. The caller owns the timeout;
	// no implicit deadline is enforced below this boundary.
	StartSearch(timeout time.Duration) error
	StopSearch() error

	Connect(address string) error
	Disconnect() error

	// Post-connect protocol requests.
	SetTime(t time.Time) error
	GetStorageInfo() error
	GetHistoryData() error
	GetRealtimeData() error
}
