package audio

import "errors"

// Quality selects one of the interchangeable recorder variants
type Quality int

const (
	QualityStandard Quality = iota
	QualityHigh
)

func (q Quality) String() string {
	if q == QualityHigh {
		return "high"
	}
	return "standard"
}

var (
	ErrNotRecording     = errors.New("recorder is not recording")
	ErrAlreadyRecording = errors.New("recorder is already recording")
	ErrNotPaused        = errors.New("recorder is not paused")
)

// Recorder defines the interface that all audio recorders must implement.
// A Recorder is single use: Start once, Stop once.
type Recorder interface {
	// Start begins capturing into path. The file is created by the recorder.
	Start(path string) error
	Pause() error
	Resume() error
	// Stop finalizes the output file. A nil error means the file is usable.
	Stop() error

	// CurrentAmplitude returns the peak absolute sample value seen since
	// the previous call, in the 0..32767 range.
	CurrentAmplitude() int
	MimeType() string
	FileExtension() string
}

// Factory builds a fresh Recorder for each session
type Factory interface {
	NewRecorder(q Quality) Recorder
}
