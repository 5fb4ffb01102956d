package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// NewOggRecorder returns the standard quality variant: Opus in an Ogg
// container, encoded by an ffmpeg child process fed over stdin.
func NewOggRecorder(source Source) Recorder {
	return &encodedRecorder{
		source:  source,
		newSink: newOggSink,
		mime:    "audio/ogg",
		ext:     "ogg",
	}
}

// oggEncoderArgs builds the ffmpeg arguments that encode raw PCM from
// stdin into path
func oggEncoderArgs(path string, f Format) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", f.SampleRate),
		"-ac", fmt.Sprintf("%d", f.Channels),
		"-i", "-",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-y", // Overwrite output
		path,
	}
}

type oggSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr strings.Builder
}

func newOggSink(path string, f Format) (sink, error) {
	args := oggEncoderArgs(path, f)
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	s := &oggSink{cmd: cmd, stdin: stdin}
	cmd.Stderr = &s.stderr

	slog.Debug("Starting encoder", "command", "ffmpeg "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return s, nil
}

func (s *oggSink) Write(pcm []byte) error {
	_, err := s.stdin.Write(pcm)
	return err
}

// Close ends the input stream so ffmpeg can flush the container
func (s *oggSink) Close() error {
	if err := s.stdin.Close(); err != nil {
		slog.Debug("Failed to close encoder stdin", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Debug("Encoder stderr", "output", s.stderr.String())
			return fmt.Errorf("ffmpeg encoder failed: %w", err)
		}
		return nil
	case <-time.After(10 * time.Second):
		slog.Warn("Encoder did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		<-done
		return fmt.Errorf("ffmpeg encoder timed out")
	}
}
