package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoDeviceProvider is returned when no platform device provider is
// registered.
var ErrNoDeviceProvider = errors.New("no device provider registered")

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput  DeviceKind = iota // Camera or capture card
	DeviceKindVideoOutput                   // Output-only node (encoder, loopback sink)
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindVideoOutput:
		return "videooutput"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	DeviceID    string     // URL handed to the demuxer, e.g. /dev/video0
	Label       string     // Human-readable device name
	Driver      string     // Kernel driver name
	BusInfo     string     // Bus location, groups nodes of one device
	Kind        DeviceKind // Device type
	InputFormat string     // FFmpeg input format that opens the device
}

// DeviceProvider is implemented by platform-specific device enumeration.
type DeviceProvider interface {
	// ListVideoDevices returns available video capture devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)
}

// deviceRegistry holds the registered device provider.
type deviceRegistry struct {
	provider DeviceProvider
	mu       sync.RWMutex
}

var globalDeviceRegistry = &deviceRegistry{}

// RegisterDeviceProvider registers a platform-specific device provider.
func RegisterDeviceProvider(provider DeviceProvider) {
	globalDeviceRegistry.mu.Lock()
	defer globalDeviceRegistry.mu.Unlock()
	globalDeviceRegistry.provider = provider
}

// GetDeviceProvider returns the registered device provider.
func GetDeviceProvider() DeviceProvider {
	globalDeviceRegistry.mu.RLock()
	defer globalDeviceRegistry.mu.RUnlock()
	return globalDeviceRegistry.provider
}

// ListVideoDevices enumerates capture devices with the registered provider.
func ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	provider := GetDeviceProvider()
	if provider == nil {
		return nil, ErrNoDeviceProvider
	}
	return provider.ListVideoDevices(ctx)
}

// DefaultVideoDevice returns the first capture device that inputFormat
// can open.
func DefaultVideoDevice(ctx context.Context, inputFormat string) (string, error) {
	devices, err := ListVideoDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("list video devices: %w", err)
	}
	for _, d := range devices {
		if d.Kind == DeviceKindVideoInput && (inputFormat == "" || d.InputFormat == inputFormat) {
			return d.DeviceID, nil
		}
	}
	return "", fmt.Errorf("no %s video devices available", inputFormat)
}
