package service

import (
	"log/slog"
	"path/filepath"

	"github.com/audiolibrelab/soundrecorder/internal/clients"
)

// rotation is the circular retention state of one recording group.
// retained is ordered oldest first.
type rotation struct {
	groupID     string
	retained    []string
	period      int64
	maxRetained int
}

func newRotation(groupID string, period int64, maxRetained int) *rotation {
	if period < 1 {
		period = 1
	}
	if maxRetained < 1 {
		maxRetained = 1
	}
	return &rotation{groupID: groupID, period: period, maxRetained: maxRetained}
}

func (r *rotation) expired(elapsed int64) bool {
	return elapsed >= r.period
}

// push appends ref and returns the references evicted from the front to
// bring the group back within maxRetained
func (r *rotation) push(ref string) []string {
	r.retained = append(r.retained, ref)

	var evicted []string
	for len(r.retained) > r.maxRetained {
		evicted = append(evicted, r.retained[0])
		r.retained = r.retained[1:]
	}
	return evicted
}

func (s *RecorderService) abandonRotation(reason string) {
	if s.rotation == nil {
		return
	}
	slog.Warn("Circular recording group abandoned", "group", s.rotation.groupID, "retained", len(s.rotation.retained), "reason", reason)
	s.rotation = nil
}

func (s *RecorderService) submitCommit(p *pendingCommit, album, mimeType string) bool {
	var ref string
	run := func() error {
		item, err := s.opts.Library.Commit(p.path, album, mimeType)
		if err != nil {
			return err
		}
		ref = item.Ref
		return nil
	}
	done := func(err error) {
		if !s.post(func() { s.onCommitted(p, ref, err) }) {
			slog.Debug("Commit finished after shutdown", "path", p.path)
		}
	}

	if !s.opts.Tasks.Submit("commit "+filepath.Base(p.path), run, done) {
		return false
	}
	s.pending = append(s.pending, p)
	return true
}

// onCommitted runs on the serial loop when a commit finishes
func (s *RecorderService) onCommitted(p *pendingCommit, ref string, err error) {
	s.forgetPending(p)

	if s.session.state == StateIdle {
		s.registry.Broadcast(clients.StatusEvent(clients.StatusReady))
		s.opts.Foreground.Release()
	}

	if err != nil {
		slog.Error("Failed to save recording", "path", p.path, "error", err)
		if p.rotation != nil && p.rotation == s.rotation {
			s.abandonRotation("commit failed")
		}
		return
	}

	if perr := s.opts.Prefs.SetLastItem(ref); perr != nil {
		slog.Warn("Failed to persist last item", "ref", ref, "error", perr)
	}
	slog.Info("Recording saved", "ref", ref, "path", p.path)

	if !p.autoRestart {
		return
	}
	if p.rotation == nil || p.rotation != s.rotation {
		slog.Info("Circular recording group no longer active, not restarting", "ref", ref)
		return
	}
	if s.session.state != StateIdle {
		s.abandonRotation("another recording is active")
		return
	}

	slog.Info("Circular recording rotation", "group", p.rotation.groupID, "ref", ref)
	if err := s.begin(p.tag, true); err != nil {
		return
	}

	for _, old := range p.rotation.push(ref) {
		s.submitDelete(old)
	}
}

// submitDelete removes an evicted item in the background. Failures are
// logged and otherwise ignored.
func (s *RecorderService) submitDelete(ref string) {
	slog.Info("Circular recording drop", "ref", ref)
	ok := s.opts.Tasks.Submit("delete "+ref, func() error {
		return s.opts.Library.Delete(ref)
	}, func(err error) {
		if err != nil {
			slog.Warn("Failed to delete evicted recording", "ref", ref, "error", err)
		}
	})
	if !ok {
		slog.Warn("Failed to queue delete of evicted recording", "ref", ref)
	}
}

func (s *RecorderService) forgetPending(p *pendingCommit) {
	for i, q := range s.pending {
		if q == p {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
