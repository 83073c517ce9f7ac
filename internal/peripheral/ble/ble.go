// Package ble adapts a BLE thermometer to the peripheral boundary.
//
// The adapter handles transport only: scanning, connection, GATT
// discovery and notification plumbing. Every vendor frame passes
// through an injected OperationCodec, which encodes the four protocol
// requests and decodes notifications into peripheral.Events calls. The
// codec ships with the vendor bindings and is not part of this module.
package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/takniatech/htd-core/internal/peripheral"
)

// ErrNilCodec is returned when the adapter is built without a codec.
var ErrNilCodec = errors.New("ble: operation codec is required")

// ErrScanActive is returned when a scan is requested while one runs.
var ErrScanActive = errors.New("ble: scan already active")

// ErrNotConnected is returned for protocol requests without a device.
var ErrNotConnected = errors.New("ble: not connected")

// Logger defines the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OperationCodec is the vendor frame boundary. Encode methods produce
// request frames for the write characteristic; Decode turns a
// notification frame into the matching Events callback.
type OperationCodec interface {
	ServiceUUID() bluetooth.UUID
	WriteCharacteristicUUID() bluetooth.UUID
	NotifyCharacteristicUUID() bluetooth.UUID

	EncodeSetTime(t time.Time) ([]byte, error)
	EncodeGetStorageInfo() ([]byte, error)
	EncodeGetHistoryData() ([]byte, error)
	EncodeGetRealtimeData() ([]byte, error)

	Decode(frame []byte, events peripheral.Events)
}

var (
	codecMu         sync.Mutex
	registeredCodec OperationCodec
)

// RegisterCodec installs the vendor codec for this build. Vendor binding
// packages call this from init, the same way database drivers register
// themselves. The last registration wins.
func RegisterCodec(codec OperationCodec) {
	codecMu.Lock()
	registeredCodec = codec
	codecMu.Unlock()
}

// DefaultCodec returns the registered vendor codec, or nil when no
// binding package is linked into the binary.
func DefaultCodec() OperationCodec {
	codecMu.Lock()
	defer codecMu.Unlock()
	return registeredCodec
}

// Config holds the adapter tunables.
type Config struct {
	// DataMarker is the advertisement payload substring flagging
	// unread on-device data.
	DataMarker string

	// ConnectTimeout bounds one connect attempt, default 20s.
	ConnectTimeout time.Duration
}

// Adapter implements peripheral.Peripheral over tinygo bluetooth.
type Adapter struct {
	adapter *bluetooth.Adapter
	codec   OperationCodec
	cfg     Config
	logger  Logger

	ctx    context.Context
	events peripheral.Events

	mu        sync.Mutex
	scanning  bool
	connected bool
	device    bluetooth.Device
	writeChar bluetooth.DeviceCharacteristic
}

// New creates a BLE adapter around the injected vendor codec.
func New(codec OperationCodec, cfg Config) (*Adapter, error) {
	if codec == nil {
		return nil, ErrNilCodec
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		codec:   codec,
		cfg:     cfg,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Init enables the host adapter and registers the event sink.
func (a *Adapter) Init(ctx context.Context, events peripheral.Events) error {
	a.ctx = ctx
	a.events = events
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling bluetooth adapter: %w", err)
	}
	return nil
}

// StartSearch runs a bounded scan in the background. Devices are
// reported through OnDeviceFound as they appear; the timeout ends the
// scan with OnSearchComplete.
func (a *Adapter) StartSearch(timeout time.Duration) error {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return ErrScanActive
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		timer := time.AfterFunc(timeout, func() {
			if err := a.adapter.StopScan(); err != nil {
				a.logger.Warn("stopping scan at timeout", "error", err)
			}
		})
		defer timer.Stop()

		marker := []byte(a.cfg.DataMarker)
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, found bluetooth.ScanResult) {
			a.events.OnDeviceFound(peripheral.DiscoveredDevice{
				Address:    found.Address.String(),
				Name:       found.LocalName(),
				RSSI:       found.RSSI,
				HasNewData: len(marker) > 0 && bytes.Contains(found.AdvertisementPayload.Bytes(), marker),
			})
		})

		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()

		if err != nil {
			a.logger.Error("scan failed", "error", err)
			a.events.OnSearchError(peripheral.SearchErrBluetoothOff)
			return
		}
		a.events.OnSearchComplete()
	}()
	return nil
}

// StopSearch ends the active scan. The scan goroutine reports
// completion through the event sink.
func (a *Adapter) StopSearch() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if !scanning {
		return nil
	}
	return a.adapter.StopScan()
}

// Connect establishes the link, discovers the vendor service and wires
// notifications into the codec. Status codes stream through
// OnConnectStatus; the method itself only fails on a malformed address.
func (a *Adapter) Connect(address string) error {
	var mac bluetooth.Address
	if err := mac.UnmarshalText([]byte(address)); err != nil {
		return fmt.Errorf("parsing device address %q: %w", address, err)
	}

	go a.connect(mac)
	return nil
}

func (a *Adapter) connect(mac bluetooth.Address) {
	a.events.OnConnectStatus(peripheral.Connecting)

	dev, err := a.adapter.Connect(mac, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(a.cfg.ConnectTimeout),
	})
	if err != nil {
		a.logger.Error("connect failed", "address", mac.String(), "error", err)
		a.events.OnConnectStatus(peripheral.DeviceCreationFailed)
		return
	}

	writeChar, err := a.characteristic(&dev, a.codec.WriteCharacteristicUUID())
	if err != nil {
		a.logger.Error("vendor service discovery failed", "error", err)
		a.disconnectWith(dev, peripheral.NoServiceFound)
		return
	}
	notifyChar, err := a.characteristic(&dev, a.codec.NotifyCharacteristicUUID())
	if err != nil {
		a.logger.Error("notify characteristic discovery failed", "error", err)
		a.disconnectWith(dev, peripheral.NoServiceFound)
		return
	}

	if err := notifyChar.EnableNotifications(func(frame []byte) {
		a.codec.Decode(frame, a.events)
	}); err != nil {
		a.logger.Error("enabling notifications failed", "error", err)
		a.disconnectWith(dev, peripheral.ListeningFailed)
		return
	}

	a.mu.Lock()
	a.device = dev
	a.writeChar = writeChar
	a.connected = true
	a.mu.Unlock()

	a.logger.Info("device connected", "address", mac.String())
	a.events.OnConnectStatus(peripheral.Connected)
}

// Disconnect drops the link and reports an active disconnection.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	connected := a.connected
	dev := a.device
	a.connected = false
	a.mu.Unlock()

	if !connected {
		return nil
	}
	err := dev.Disconnect()
	a.events.OnConnectStatus(peripheral.ActiveDisconnection)
	return err
}

// SetTime requests device clock synchronization.
func (a *Adapter) SetTime(t time.Time) error {
	frame, err := a.codec.EncodeSetTime(t)
	if err != nil {
		return fmt.Errorf("encoding set-time request: %w", err)
	}
	return a.write(frame)
}

// GetStorageInfo requests the device-resident record count.
func (a *Adapter) GetStorageInfo() error {
	frame, err := a.codec.EncodeGetStorageInfo()
	if err != nil {
		return fmt.Errorf("encoding storage-info request: %w", err)
	}
	return a.write(frame)
}

// GetHistoryData requests the history transfer.
func (a *Adapter) GetHistoryData() error {
	frame, err := a.codec.EncodeGetHistoryData()
	if err != nil {
		return fmt.Errorf("encoding history request: %w", err)
	}
	return a.write(frame)
}

// GetRealtimeData requests one live sample.
func (a *Adapter) GetRealtimeData() error {
	frame, err := a.codec.EncodeGetRealtimeData()
	if err != nil {
		return fmt.Errorf("encoding realtime request: %w", err)
	}
	return a.write(frame)
}

// characteristic discovers one characteristic of the vendor service.
func (a *Adapter) characteristic(dev *bluetooth.Device, charID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	srvs, err := dev.DiscoverServices([]bluetooth.UUID{a.codec.ServiceUUID()})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering service %s: %w", a.codec.ServiceUUID(), err)
	}
	for _, s := range srvs {
		chars, err := s.DiscoverCharacteristics([]bluetooth.UUID{charID})
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering characteristic %s: %w", charID, err)
		}
		if len(chars) == 0 {
			break
		}
		return chars[0], nil
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", charID)
}

// disconnectWith drops a half-established link and reports the status.
func (a *Adapter) disconnectWith(dev bluetooth.Device, status peripheral.ConnectStatus) {
	if err := dev.Disconnect(); err != nil {
		a.logger.Warn("disconnecting after setup failure", "error", err)
	}
	a.events.OnConnectStatus(status)
}

// write sends a request frame to the vendor write characteristic.
func (a *Adapter) write(frame []byte) error {
	a.mu.Lock()
	connected := a.connected
	char := a.writeChar
	a.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if _, err := char.WriteWithoutResponse(frame); err != nil {
		return fmt.Errorf("writing request frame: %w", err)
	}
	return nil
}
