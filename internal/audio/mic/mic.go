// Package mic opens system microphones through PortAudio.
package mic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-live/internal/audio"
)

// Backend is an audio.Opener over PortAudio input devices. Initialize must
// succeed before use and Terminate must run only after every stream opened
// through it has been closed.
type Backend struct {
	logger *slog.Logger
	mu     sync.Mutex
	ready  bool
}

func New(logger *slog.Logger) *Backend {
	return &Backend{logger: logger.With(slog.String("component", "mic"))}
}

func (b *Backend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	b.ready = true
	b.logger.Info("portaudio initialized", slog.String("version", portaudio.VersionText()))
	return nil
}

func (b *Backend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return nil
	}
	b.ready = false
	return portaudio.Terminate()
}

// Devices maps input device names to PortAudio indexes. Duplicate names get
// their index appended.
func (b *Backend) Devices() (map[string]int, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		name := d.Name
		if _, dup := out[name]; dup {
			name = fmt.Sprintf("%s #%d", d.Name, d.Index)
		}
		out[name] = d.Index
	}
	return out, nil
}

// DefaultInputName reports the system default input device.
func (b *Backend) DefaultInputName() (string, error) {
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (b *Backend) Open(index int, format audio.Format) (audio.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var info *portaudio.DeviceInfo
	for _, d := range devices {
		if d.Index == index {
			info = d
			break
		}
	}
	if info == nil || info.MaxInputChannels < format.Channels {
		return nil, fmt.Errorf("%w: index %d", audio.ErrUnknownDevice, index)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.ChunkFrames

	buffer := make([]int16, format.ChunkFrames*format.Channels)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &device{stream: stream, buffer: buffer, logger: b.logger}, nil
}

type device struct {
	stream *portaudio.Stream
	buffer []int16
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (d *device) Read(buf []byte) error {
	if err := d.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}
		d.logger.Debug("input overflowed")
	}
	for i, sample := range d.buffer {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return nil
}

// Close aborts the stream, which also unblocks a pending Read, then releases it.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	abortErr := d.stream.Abort()
	closeErr := d.stream.Close()
	return errors.Join(abortErr, closeErr)
}
