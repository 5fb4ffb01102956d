package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// Run processes commands until ctx is cancelled, then tears the service
// down. It must be called exactly once.
func (s *RecorderService) Run(ctx context.Context) error {
	if s.opts.Prefs.CurrentlyRecording() {
		slog.Warn("Previous recording was interrupted, waiting for user presence to restart it")
		s.rearm = true
	}

	var shutdown, present chan os.Signal
	if s.opts.ShutdownSignal != nil {
		shutdown = make(chan os.Signal, 1)
		signal.Notify(shutdown, s.opts.ShutdownSignal)
	}
	if s.rearm && s.opts.UserPresentSignal != nil {
		present = make(chan os.Signal, 1)
		signal.Notify(present, s.opts.UserPresentSignal)
	}

	slog.Info("Recorder service running", "recordings", s.opts.RecordingsDir)

	for {
		select {
		case <-ctx.Done():
			if shutdown != nil {
				signal.Stop(shutdown)
			}
			if present != nil {
				signal.Stop(present)
			}
			s.teardown()
			return nil

		case cmd := <-s.commands:
			cmd()

		case <-shutdown:
			s.onShutdown()

		case <-present:
			signal.Stop(present)
			present = nil
			s.onUserPresent()
		}
	}
}

// teardown releases everything the loop owns. Pending commits are
// abandoned and their callbacks are dropped.
func (s *RecorderService) teardown() {
	s.stopTicks()
	s.registry.Close()
	s.opts.Tasks.Terminate()

	if s.session.state != StateIdle {
		slog.Warn("Service stopping with an active recording", "path", s.session.outputPath)
		if err := s.session.recorder.Stop(); err != nil {
			slog.Error("Failed to close recorder", "error", err)
		}
		s.session = session{}
	}
	s.opts.Foreground.Release()

	close(s.done)
	slog.Info("Recorder service stopped")
}
