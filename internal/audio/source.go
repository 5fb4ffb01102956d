package audio

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize is the number of bytes per interleaved frame
func (f Format) FrameSize() int {
	return 2 * f.Channels
}

// Source produces raw PCM for a recorder. Closing the returned stream
// stops the capture.
type Source interface {
	Open() (io.ReadCloser, error)
	Format() Format
}

// processSource captures PCM from a child process writing to stdout
type processSource struct {
	name   string
	args   []string
	format Format
}

// NewProcessSource returns a Source backed by the given capture command
func NewProcessSource(format Format, name string, args ...string) Source {
	return &processSource{name: name, args: args, format: format}
}

func (s *processSource) Format() Format {
	return s.format
}

func (s *processSource) Open() (io.ReadCloser, error) {
	cmd := exec.Command(s.name, s.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Info("Starting capture process", "command", s.name+" "+strings.Join(s.args, " "))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.name, err)
	}

	p := &captureProcess{cmd: cmd, stdout: stdout}
	go p.readOutput(stderr, "stderr")
	return p, nil
}

// captureProcess is a running capture command
type captureProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	stderrBuf strings.Builder
}

func (p *captureProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *captureProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = stopProcess(p.cmd, 5*time.Second, p.stderr)
	})
	return p.closeErr
}

func (p *captureProcess) stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderrBuf.String()
}

// readOutput reads from a pipe and buffers output
func (p *captureProcess) readOutput(pipe io.ReadCloser, label string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stderrBuf.WriteString(line + "\n")
		p.mu.Unlock()
		slog.Debug("Capture output", "stream", label, "line", line)
	}
}

// stopProcess interrupts cmd and waits for it to exit, killing it after
// timeout. Exits caused by the interrupt are not errors.
func stopProcess(cmd *exec.Cmd, timeout time.Duration, stderr func() string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	slog.Debug("Sending SIGINT to child process", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt, falling back to SIGKILL", "error", err)
		cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// ffmpeg exits with 255 after a graceful interrupt
			if exitErr.ExitCode() == 255 {
				return nil
			}
			if exitErr.ProcessState != nil {
				state := exitErr.ProcessState.String()
				if state == "signal: interrupt" || state == "signal: killed" {
					return nil
				}
			}
			// arecord and pw-record report 1 when interrupted
			if exitErr.ExitCode() == 1 && cmd.ProcessState != nil && cmd.ProcessState.Exited() {
				return nil
			}
		}
		if stderr != nil {
			slog.Debug("Child process stderr", "output", stderr())
		}
		return fmt.Errorf("%s failed: %w", cmd.Path, err)

	case <-time.After(timeout):
		slog.Warn("Child process did not exit within timeout, force killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-done
		return nil
	}
}
