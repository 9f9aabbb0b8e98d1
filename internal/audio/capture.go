package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-live/internal/lifecycle"
)

// Capture exclusively owns one opened input device for the lifetime of a
// session and feeds fixed-size chunks into a Queue.
type Capture struct {
	device Device
	name   string
	format Format
	queue  *Queue
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	running   atomic.Bool
	chunks    atomic.Int64
}

// Open opens the device at index on opener. Failures are reported as
// *DeviceError.
func Open(opener Opener, index int, name string, format Format, queue *Queue, logger *slog.Logger) (*Capture, error) {
	if format.ChunkBytes() <= 0 {
		return nil, &DeviceError{Op: "open", Device: name, Err: fmt.Errorf("invalid chunk size %d", format.ChunkBytes())}
	}
	device, err := opener.Open(index, format)
	if err != nil {
		return nil, &DeviceError{Op: "open", Device: name, Err: err}
	}
	logger.Info("audio device opened",
		slog.String("device", name),
		slog.Int("index", index),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("chunk_bytes", format.ChunkBytes()))
	return &Capture{
		device: device,
		name:   name,
		format: format,
		queue:  queue,
		logger: logger,
	}, nil
}

func (c *Capture) Queue() *Queue { return c.queue }

func (c *Capture) Format() Format { return c.format }

func (c *Capture) Running() bool { return c.running.Load() }

// Chunks reports how many chunks were enqueued so far.
func (c *Capture) Chunks() int64 { return c.chunks.Load() }

// ReadLoop reads one chunk per iteration and enqueues it while sig is
// active. It returns nil once sig stops or the device reports the end of a
// finite stream; read failures while active are returned as *DeviceError
// and are not retried.
func (c *Capture) ReadLoop(sig *lifecycle.Signal) error {
	c.running.Store(true)
	defer c.running.Store(false)
	defer c.queue.CloseInput()

	done := sig.Done()
	size := c.format.ChunkBytes()
	for !sig.Stopped() {
		chunk := make([]byte, size)
		if err := c.device.Read(chunk); err != nil {
			if sig.Stopped() {
				return nil
			}
			if errors.Is(err, ErrEndOfStream) {
				c.logger.Info("audio input ended", slog.String("device", c.name))
				return nil
			}
			return &DeviceError{Op: "read", Device: c.name, Err: err}
		}
		if sig.Stopped() {
			return nil
		}
		if !c.queue.Push(done, chunk) {
			return nil
		}
		c.chunks.Add(1)
	}
	return nil
}

// Close stops and releases the device and discards buffered chunks. Safe to
// call more than once and concurrently with ReadLoop.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		discarded := c.queue.Close()
		c.closeErr = c.device.Close()
		c.logger.Info("audio device closed",
			slog.String("device", c.name),
			slog.Int64("chunks", c.chunks.Load()),
			slog.Int("discarded", discarded))
	})
	return c.closeErr
}
