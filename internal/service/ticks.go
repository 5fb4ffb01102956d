package service

import (
	"log/slog"
	"time"

	"github.com/audiolibrelab/soundrecorder/internal/clients"
)

type tickKind int

const (
	tickElapsed tickKind = iota
	tickAmplitude
)

// tickSource is the goroutine feeding elapsed and amplitude ticks into the
// serial loop while a recording is running. Ticks carry the generation
// they were produced for; the loop drops ticks from a stopped generation.
type tickSource struct {
	gen  uint64
	stop chan struct{}
}

func (s *RecorderService) startTicks() {
	s.stopTicks()

	s.gen++
	t := &tickSource{gen: s.gen, stop: make(chan struct{})}
	s.ticks = t
	go s.runTicks(t, s.opts.ElapsedInterval, s.opts.AmplitudeInterval)
}

func (s *RecorderService) stopTicks() {
	if s.ticks == nil {
		return
	}
	close(s.ticks.stop)
	s.ticks = nil
}

func (s *RecorderService) runTicks(t *tickSource, elapsedEvery, amplitudeEvery time.Duration) {
	elapsed := time.NewTicker(elapsedEvery)
	defer elapsed.Stop()
	amplitude := time.NewTicker(amplitudeEvery)
	defer amplitude.Stop()

	send := func(kind tickKind) bool {
		select {
		case s.commands <- func() { s.onTick(t.gen, kind) }:
			return true
		case <-t.stop:
			return false
		case <-s.done:
			return false
		}
	}

	// First amplitude sample is taken immediately
	if !send(tickAmplitude) {
		return
	}

	for {
		select {
		case <-t.stop:
			return
		case <-s.done:
			return
		case <-elapsed.C:
			if !send(tickElapsed) {
				return
			}
		case <-amplitude.C:
			if !send(tickAmplitude) {
				return
			}
		}
	}
}

func (s *RecorderService) onTick(gen uint64, kind tickKind) {
	if s.ticks == nil || s.ticks.gen != gen {
		return
	}
	switch kind {
	case tickElapsed:
		s.onElapsed()
	case tickAmplitude:
		s.onAmplitude()
	}
}

func (s *RecorderService) onElapsed() {
	if s.session.state != StateRecording {
		return
	}

	s.session.elapsed++
	s.registry.Broadcast(clients.ElapsedEvent(s.session.elapsed))

	if s.rotation != nil && s.rotation.expired(s.session.elapsed) {
		slog.Info("Circular recording period reached", "group", s.rotation.groupID, "elapsed", s.session.elapsed)
		if err := s.stopRecording(true); err != nil {
			slog.Error("Failed to rotate circular recording", "error", err)
		}
	}
}

func (s *RecorderService) onAmplitude() {
	if s.session.state != StateRecording || s.session.recorder == nil {
		return
	}
	s.registry.Broadcast(clients.AmplitudeEvent(s.session.recorder.CurrentAmplitude()))
}
