package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// sink receives PCM chunks and produces the output file
type sink interface {
	Write(pcm []byte) error
	Close() error
}

type sinkFactory func(path string, f Format) (sink, error)

const chunkFrames = 1024

// pump copies PCM from a capture stream into a sink, tracking the peak
// amplitude. While paused, captured audio is dropped.
type pump struct {
	src    io.ReadCloser
	sink   sink
	format Format

	paused  atomic.Bool
	stopped atomic.Bool
	peak    atomic.Int32

	done chan struct{}
	err  error
}

func newPump(src io.ReadCloser, s sink, f Format) *pump {
	return &pump{src: src, sink: s, format: f, done: make(chan struct{})}
}

func (p *pump) run() {
	defer close(p.done)

	frame := p.format.FrameSize()
	buf := make([]byte, chunkFrames*frame)
	for {
		n, err := io.ReadFull(p.src, buf)
		n -= n % frame
		if n > 0 {
			chunk := buf[:n]
			p.observe(chunk)
			if !p.paused.Load() {
				if werr := p.sink.Write(chunk); werr != nil {
					p.err = fmt.Errorf("failed to write audio: %w", werr)
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF || p.stopped.Load() {
				return
			}
			p.err = fmt.Errorf("capture read failed: %w", err)
			return
		}
	}
}

func (p *pump) observe(pcm []byte) {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	for {
		cur := p.peak.Load()
		if peak <= cur || p.peak.CompareAndSwap(cur, peak) {
			return
		}
	}
}

// stop ends the capture and waits for the copy loop to drain
func (p *pump) stop() error {
	p.stopped.Store(true)
	closeErr := p.src.Close()
	<-p.done
	if p.err != nil {
		return p.err
	}
	return closeErr
}

// encodedRecorder is the Recorder shared by every quality variant; the
// variants differ only in the sink that encodes the PCM stream
type encodedRecorder struct {
	source  Source
	newSink sinkFactory
	mime    string
	ext     string

	mu      sync.Mutex
	path    string
	pump    *pump
	sink    sink
	started bool
	paused  bool
}

func (r *encodedRecorder) MimeType() string      { return r.mime }
func (r *encodedRecorder) FileExtension() string { return r.ext }

func (r *encodedRecorder) Start(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyRecording
	}
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	format := r.source.Format()
	s, err := r.newSink(path, format)
	if err != nil {
		return fmt.Errorf("failed to open %s output: %w", r.ext, err)
	}

	src, err := r.source.Open()
	if err != nil {
		s.Close()
		os.Remove(path)
		return fmt.Errorf("failed to open capture source: %w", err)
	}

	r.path = path
	r.sink = s
	r.pump = newPump(src, s, format)
	r.started = true
	go r.pump.run()

	slog.Info("Recording started", "path", path, "format", r.ext, "sample_rate", format.SampleRate, "channels", format.Channels)
	return nil
}

func (r *encodedRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.paused {
		return ErrNotRecording
	}
	r.pump.paused.Store(true)
	r.paused = true
	return nil
}

func (r *encodedRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || !r.paused {
		return ErrNotPaused
	}
	r.pump.paused.Store(false)
	r.paused = false
	return nil
}

func (r *encodedRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return ErrNotRecording
	}
	r.started = false

	pumpErr := r.pump.stop()
	sinkErr := r.sink.Close()
	if err := errors.Join(pumpErr, sinkErr); err != nil {
		return err
	}

	return validateOutputFile(r.path)
}

func (r *encodedRecorder) CurrentAmplitude() int {
	r.mu.Lock()
	p := r.pump
	r.mu.Unlock()

	if p == nil {
		return 0
	}
	return int(p.peak.Swap(0))
}

// validateOutputFile checks that the encoder left a non-empty file behind
func validateOutputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("recording failed: %s is empty", path)
	}
	slog.Debug("Output file validated", "path", path, "size", info.Size())
	return nil
}
