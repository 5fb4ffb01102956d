package audio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/soundrecorder/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypePulse    BackendType = "pulse"
	BackendTypeALSA     BackendType = "alsa"
	BackendTypeAuto     BackendType = "auto"
)

// captureTool is the executable each backend records with
var captureTool = map[BackendType]string{
	BackendTypePipeWire: "pw-record",
	BackendTypePulse:    "ffmpeg",
	BackendTypeALSA:     "arecord",
}

// lookPath is replaced in tests
var lookPath = exec.LookPath

// Backend builds capture sources and recorders for one audio stack
type Backend struct {
	Type   BackendType
	Device string
	Format Format
}

// NewBackend resolves the configured backend, probing the system for
// "auto"
func NewBackend(cfg config.AudioConfig) (*Backend, error) {
	backendType := determineBackend(cfg)
	if backendType == "" {
		return nil, fmt.Errorf("no audio backend available (tried: pw-record, ffmpeg, arecord)")
	}

	return &Backend{
		Type:   backendType,
		Device: cfg.Device,
		Format: Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
	}, nil
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "pipewire":
		return BackendTypePipeWire
	case "pulse":
		return BackendTypePulse
	case "alsa":
		return BackendTypeALSA
	}

	for _, bt := range []BackendType{BackendTypePipeWire, BackendTypePulse, BackendTypeALSA} {
		if _, err := lookPath(captureTool[bt]); err == nil {
			return bt
		}
	}
	return ""
}

// Tool returns the capture executable of this backend
func (b *Backend) Tool() string {
	return captureTool[b.Type]
}

// captureArgs builds the command line that writes raw s16le PCM to stdout
func (b *Backend) captureArgs() []string {
	rate := fmt.Sprintf("%d", b.Format.SampleRate)
	channels := fmt.Sprintf("%d", b.Format.Channels)
	device := b.Device

	switch b.Type {
	case BackendTypePipeWire:
		args := []string{"--rate", rate, "--channels", channels, "--format", "s16"}
		if device != "" && device != "default" {
			args = append(args, "--target", device)
		}
		return append(args, "-")
	case BackendTypePulse:
		if device == "" {
			device = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", device,
			"-ac", channels, "-ar", rate,
			"-f", "s16le", "-",
		}
	default:
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
		if device != "" {
			args = append(args, "-D", device)
		}
		return args
	}
}

// Source returns a capture source for this backend
func (b *Backend) Source() Source {
	return NewProcessSource(b.Format, b.Tool(), b.captureArgs()...)
}

// NewRecorder creates a recorder of the requested quality
func (b *Backend) NewRecorder(q Quality) Recorder {
	if q == QualityHigh {
		return NewWAVRecorder(b.Source())
	}
	return NewOggRecorder(b.Source())
}

// Available reports whether the capture tool can be executed
func (b *Backend) Available() error {
	if _, err := lookPath(b.Tool()); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", b.Tool(), err)
	}
	return nil
}
