package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errDeviceClosed = errors.New("device closed")

// pacer spaces reads one chunk duration apart so synthetic devices behave
// like a live microphone.
type pacer struct {
	interval time.Duration
	next     time.Time
	closed   <-chan struct{}
}

func (p *pacer) wait() error {
	if p.interval <= 0 {
		select {
		case <-p.closed:
			return errDeviceClosed
		default:
			return nil
		}
	}
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	p.next = p.next.Add(p.interval)
	delay := p.next.Sub(now)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-p.closed:
		return errDeviceClosed
	case <-timer.C:
		return nil
	}
}

type closer struct {
	once sync.Once
	ch   chan struct{}
}

func newCloser() *closer { return &closer{ch: make(chan struct{})} }

func (c *closer) close() { c.once.Do(func() { close(c.ch) }) }

// SilenceOpener exposes a single synthetic device producing zeroed chunks.
type SilenceOpener struct {
	Realtime bool
}

const SilenceDeviceName = "silence"

func (SilenceOpener) Devices() (map[string]int, error) {
	return map[string]int{SilenceDeviceName: 0}, nil
}

func (o SilenceOpener) Open(index int, format Format) (Device, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownDevice, index)
	}
	d := &silenceDevice{closer: newCloser()}
	d.pacer = pacer{closed: d.closer.ch}
	if o.Realtime {
		d.pacer.interval = format.ChunkDuration()
	}
	return d, nil
}

type silenceDevice struct {
	closer *closer
	pacer  pacer
}

func (d *silenceDevice) Read(buf []byte) error {
	if err := d.pacer.wait(); err != nil {
		return err
	}
	clear(buf)
	return nil
}

func (d *silenceDevice) Close() error {
	d.closer.close()
	return nil
}

// WavOpener replays a 16-bit mono WAV file whose sample rate matches the
// capture format. With Loop set the file restarts at its end; otherwise the
// device reports ErrEndOfStream.
type WavOpener struct {
	Path     string
	Loop     bool
	Realtime bool
}

func (o WavOpener) DeviceName() string {
	return "wav:" + filepath.Base(o.Path)
}

func (o WavOpener) Devices() (map[string]int, error) {
	if _, err := os.Stat(o.Path); err != nil {
		return nil, err
	}
	return map[string]int{o.DeviceName(): 0}, nil
}

func (o WavOpener) Open(index int, format Format) (Device, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownDevice, index)
	}
	file, err := os.Open(o.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pcm, fileFormat, err := DecodeWAV(file)
	if err != nil {
		return nil, err
	}
	if fileFormat.SampleRate != format.SampleRate || fileFormat.Channels != format.Channels {
		return nil, fmt.Errorf("wav format %d Hz/%d ch does not match capture format %d Hz/%d ch",
			fileFormat.SampleRate, fileFormat.Channels, format.SampleRate, format.Channels)
	}
	d := &wavDevice{pcm: pcm, loop: o.Loop, closer: newCloser()}
	d.pacer = pacer{closed: d.closer.ch}
	if o.Realtime {
		d.pacer.interval = format.ChunkDuration()
	}
	return d, nil
}

type wavDevice struct {
	pcm    []byte
	pos    int
	loop   bool
	closer *closer
	pacer  pacer
}

func (d *wavDevice) Read(buf []byte) error {
	if err := d.pacer.wait(); err != nil {
		return err
	}
	if d.pos >= len(d.pcm) {
		if !d.loop || len(d.pcm) == 0 {
			return ErrEndOfStream
		}
		d.pos = 0
	}
	n := copy(buf, d.pcm[d.pos:])
	d.pos += n
	// Pad the final partial chunk with silence.
	clear(buf[n:])
	return nil
}

func (d *wavDevice) Close() error {
	d.closer.close()
	return nil
}
