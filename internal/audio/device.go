// Package audio owns microphone capture: device access, the bounded chunk
// queue between capture and recognition, and the pull-based chunk source
// handed to the recognizer.
package audio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
)

var (
	// ErrDevice marks failures of the underlying audio device.
	ErrDevice = errors.New("audio device error")
	// ErrEndOfStream is returned by finite devices (files) when no audio is left.
	ErrEndOfStream = errors.New("audio stream ended")
	// ErrUnknownDevice is returned when a selected device name is not present.
	ErrUnknownDevice = errors.New("unknown audio device")
)

// DeviceError wraps a device failure with the operation that produced it.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("audio %s %q: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("audio %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// Format describes the PCM16LE stream produced by a device.
type Format struct {
	SampleRate  int
	Channels    int
	ChunkFrames int
}

// FormatFromConfig derives the chunk size from the configured chunk
// duration (100 ms at 16 kHz gives 1600 frames).
func FormatFromConfig(cfg config.AudioConfig) Format {
	return Format{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		ChunkFrames: cfg.SampleRate * cfg.ChunkMS / 1000,
	}
}

// DefaultFormat is 16 kHz mono with 100 ms chunks.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, ChunkFrames: 1600}
}

func (f Format) ChunkBytes() int {
	return f.ChunkFrames * f.Channels * 2
}

func (f Format) ChunkDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.ChunkFrames) * time.Second / time.Duration(f.SampleRate)
}

// Device is an opened input stream. Read fills buf with exactly one chunk
// and blocks until it is available. Close must unblock a pending Read.
type Device interface {
	Read(buf []byte) error
	Close() error
}

// Opener enumerates and opens input devices.
type Opener interface {
	Devices() (map[string]int, error)
	Open(index int, format Format) (Device, error)
}

// Resolve maps a device display name to its index. An empty name selects
// the lowest index.
func Resolve(opener Opener, name string) (int, error) {
	devices, err := opener.Devices()
	if err != nil {
		return 0, &DeviceError{Op: "enumerate", Err: err}
	}
	if name == "" {
		if len(devices) == 0 {
			return 0, &DeviceError{Op: "enumerate", Err: ErrUnknownDevice}
		}
		indexes := make([]int, 0, len(devices))
		for _, idx := range devices {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		return indexes[0], nil
	}
	idx, ok := devices[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return idx, nil
}

// DeviceNames returns the sorted names known to the opener.
func DeviceNames(opener Opener) ([]string, error) {
	devices, err := opener.Devices()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
