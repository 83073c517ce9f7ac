package peripheral

import "log/slog"

// ConnectStatus is the connection status code stream reported by the
// peripheral. Connected is the only state from which the post-connect
// protocol proceeds; ActiveDisconnection and AbnormalDisconnection
// share the cleanup transition back to idle, every other non-Connected
// code is a terminal failure requiring a fresh connect attempt.
type ConnectStatus int

const (
	DeviceCreationFailed    ConnectStatus = 0
	CommunicationModeFailed ConnectStatus = 1
	Connecting              ConnectStatus = 2
	Connected               ConnectStatus = 3
	ActiveDisconnection     ConnectStatus = 4
	NoServiceFound          ConnectStatus = 5
	ListeningFailed         ConnectStatus = 6
	AbnormalDisconnection   ConnectStatus = 7
)

// Message returns the human-readable status text shown to observers.
func (s ConnectStatus) Message() string {
	switch s {
	case DeviceCreationFailed:
		return "device creation failed"
	case CommunicationModeFailed:
		return "failed to enter communication mode"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ActiveDisconnection:
		return "disconnected"
	case NoServiceFound:
		return "no matching service found"
	case ListeningFailed:
		return "failed to listen for notifications"
	case AbnormalDisconnection:
		return "connection lost"
	default:
		return "unknown status"
	}
}

// LogLevel maps a status to its log severity: informational for the
// success path, debug while connecting, warning for a user-initiated
// disconnect, error for everything else.
func (s ConnectStatus) LogLevel() slog.Level {
	switch s {
	case Connected:
		return slog.LevelInfo
	case Connecting:
		return slog.LevelDebug
	case ActiveDisconnection:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// IsDisconnection reports whether the status triggers the session reset
// transition.
func (s ConnectStatus) IsDisconnection() bool {
	return s == ActiveDisconnection || s == AbnormalDisconnection
}

// IsTerminalFailure reports whether the status ends the connect attempt
// without a usable link.
func (s ConnectStatus) IsTerminalFailure() bool {
	switch s {
	case Connecting, Connected, ActiveDisconnection, AbnormalDisconnection:
		return false
	default:
		return true
	}
}

// SearchErrorMessage maps an OnSearchError cause to status text.
func SearchErrorMessage(cause int) string {
	switch cause {
	case SearchErrUnsupported:
		return "bluetooth is not supported on this hardware"
	case SearchErrBluetoothOff:
		return "bluetooth is disabled"
	default:
		return "scan failed"
	}
}
