package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/soundrecorder/internal/audio"
	"github.com/audiolibrelab/soundrecorder/internal/clients"
)

// session is the single active recording. outputPath is empty iff the
// state is idle.
type session struct {
	state      State
	tag        string
	outputPath string
	elapsed    int64
	circular   bool
	recorder   audio.Recorder
}

func (s session) clientStatus() clients.Status {
	switch s.state {
	case StateRecording:
		return clients.StatusRecording
	case StatePaused:
		return clients.StatusPaused
	default:
		return clients.StatusReady
	}
}

// pendingCommit is a stopped recording on its way into the library
type pendingCommit struct {
	tag         string
	path        string
	rotation    *rotation
	autoRestart bool
}

const fileTimeLayout = "2006-01-02 15:04:05"

// fileStem names a recording "<tag> <date> <time>". Path separators in
// the tag are replaced so the file stays in the recordings directory.
func fileStem(tag string, now time.Time) string {
	tag = strings.Map(func(r rune) rune {
		if r == '/' || r == filepath.Separator || r == 0 {
			return '_'
		}
		return r
	}, tag)
	return fmt.Sprintf("%s %s", tag, now.Format(fileTimeLayout))
}

// outputPath picks a file for stem in dir that is neither on disk nor
// still waiting to be committed, appending " (n)" on collision
func (s *RecorderService) outputPath(dir, stem, ext string) string {
	candidate := filepath.Join(dir, stem+"."+ext)
	for n := 1; s.pathTaken(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d).%s", stem, n, ext))
	}
	return candidate
}

func (s *RecorderService) pathTaken(path string) bool {
	for _, p := range s.pending {
		if p.path == path {
			return true
		}
	}
	_, err := os.Lstat(path)
	return err == nil
}

// startRecording handles an explicit start. It ends any rotation still
// waiting for its restart.
func (s *RecorderService) startRecording(tag string, circular bool) error {
	if s.session.state != StateIdle {
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidStateTransition, s.session.state)
	}
	if s.rotation != nil {
		slog.Info("Circular recording group superseded by new recording", "group", s.rotation.groupID)
		s.rotation = nil
	}
	return s.begin(tag, circular)
}

// begin opens a new session. On failure the session stays idle, the
// rotation is abandoned and clients are told the recorder is ready.
func (s *RecorderService) begin(tag string, circular bool) error {
	if err := s.openSession(tag, circular); err != nil {
		slog.Error("Failed to start recording", "tag", tag, "circular", circular, "error", err)
		if s.rotation != nil {
			slog.Warn("Circular recording group abandoned", "group", s.rotation.groupID, "retained", len(s.rotation.retained))
			s.rotation = nil
		}
		s.registry.Broadcast(clients.StatusEvent(clients.StatusReady))
		return err
	}
	return nil
}

func (s *RecorderService) openSession(tag string, circular bool) error {
	if tag == "" {
		tag = DefaultTag
	}

	if err := s.opts.Permissions.CanRecordAudio(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	quality := audio.QualityStandard
	if s.opts.Prefs.HighQuality() {
		quality = audio.QualityHigh
	}
	rec := s.opts.Recorders.NewRecorder(quality)

	stem := fileStem(tag, s.opts.Now())
	if err := os.MkdirAll(s.opts.RecordingsDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputPrepareFailed, err)
	}
	path := s.outputPath(s.opts.RecordingsDir, stem, rec.FileExtension())

	if err := rec.Start(path); err != nil {
		return fmt.Errorf("%w: %v", ErrRecorderStartFailed, err)
	}

	if circular && s.rotation == nil {
		s.rotation = newRotation(stem, s.opts.Prefs.CircularPeriod(), s.opts.Prefs.CircularNumber())
		slog.Info("Circular recording group started", "group", stem, "period", s.rotation.period, "max_retained", s.rotation.maxRetained)
	}

	s.session = session{
		state:      StateRecording,
		tag:        tag,
		outputPath: path,
		circular:   circular,
		recorder:   rec,
	}
	s.rearm = false
	s.startTicks()

	s.registry.Broadcast(clients.StatusEvent(clients.StatusRecording))
	s.registry.Broadcast(clients.ElapsedEvent(0))

	if err := s.opts.Foreground.Acquire(); err != nil {
		slog.Warn("Failed to acquire foreground lock", "error", err)
	}
	if err := s.opts.Prefs.SetCurrentlyRecording(true); err != nil {
		slog.Warn("Failed to persist recording flag", "error", err)
	}

	slog.Info("Recording started", "tag", tag, "path", path, "quality", quality, "circular", circular)
	return nil
}

// stopRecording ends the session. autoRestart marks a period expiry: the
// rotation survives and the commit callback starts the next recording.
func (s *RecorderService) stopRecording(autoRestart bool) error {
	if err := s.opts.Prefs.SetCurrentlyRecording(false); err != nil {
		slog.Warn("Failed to persist recording flag", "error", err)
	}

	if s.session.state == StateIdle {
		return ErrNoActiveSession
	}

	rec := s.session.recorder
	if s.session.state == StatePaused {
		if err := rec.Resume(); err != nil {
			slog.Warn("Failed to resume recorder before stop", "error", err)
		}
	}
	s.stopTicks()

	tag, path := s.session.tag, s.session.outputPath
	album := ""
	if s.rotation != nil {
		album = s.rotation.groupID
	}

	if err := rec.Stop(); err != nil {
		slog.Error("Recorder failed to stop", "path", path, "error", err)
		s.session = session{}
		s.abandonRotation("recording could not be saved")
		s.opts.Foreground.Release()
		s.registry.Broadcast(clients.StatusEvent(clients.StatusReady))
		return fmt.Errorf("%w: %v", ErrRecordingSaveFailed, err)
	}

	if !autoRestart && s.rotation != nil {
		slog.Info("Circular recording group ended", "group", s.rotation.groupID)
		s.rotation = nil
	}

	p := &pendingCommit{
		tag:         tag,
		path:        path,
		rotation:    s.rotation,
		autoRestart: autoRestart,
	}
	s.session = session{}

	if !s.submitCommit(p, album, rec.MimeType()) {
		s.abandonRotation("commit could not be queued")
		s.opts.Foreground.Release()
		s.registry.Broadcast(clients.StatusEvent(clients.StatusReady))
		return fmt.Errorf("%w: task queue unavailable", ErrRecordingSaveFailed)
	}

	slog.Info("Recording stopped", "path", path, "auto_restart", autoRestart)
	return nil
}

func (s *RecorderService) pauseRecording() error {
	if s.session.state != StateRecording {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidStateTransition, s.session.state)
	}
	if err := s.session.recorder.Pause(); err != nil {
		return fmt.Errorf("failed to pause recorder: %w", err)
	}

	s.session.state = StatePaused
	s.stopTicks()
	s.registry.Broadcast(clients.AmplitudeEvent(0))
	s.registry.Broadcast(clients.StatusEvent(clients.StatusPaused))

	slog.Info("Recording paused", "elapsed", s.session.elapsed)
	return nil
}

func (s *RecorderService) resumeRecording() error {
	if s.session.state != StatePaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidStateTransition, s.session.state)
	}
	if err := s.session.recorder.Resume(); err != nil {
		return fmt.Errorf("failed to resume recorder: %w", err)
	}

	s.session.state = StateRecording
	s.startTicks()
	s.registry.Broadcast(clients.StatusEvent(clients.StatusRecording))

	slog.Info("Recording resumed", "elapsed", s.session.elapsed)
	return nil
}

// onShutdown saves the active recording before the host goes down
func (s *RecorderService) onShutdown() {
	if s.session.state == StateIdle {
		return
	}
	slog.Info("Shutdown requested, saving active recording")
	if err := s.stopRecording(false); err != nil {
		slog.Error("Failed to stop recording on shutdown", "error", err)
	}
}

// onUserPresent restarts a recording that a previous daemon was killed
// in the middle of. The interrupted file itself is not recovered.
func (s *RecorderService) onUserPresent() {
	if !s.rearm {
		return
	}
	s.rearm = false

	if s.session.state != StateIdle {
		return
	}
	circular := s.opts.Prefs.CircularRecording()
	slog.Info("Resuming interrupted recording", "tag", DefaultTag, "circular", circular)
	if err := s.startRecording(DefaultTag, circular); err != nil {
		slog.Error("Failed to restart interrupted recording", "error", err)
	}
}
