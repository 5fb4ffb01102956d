package service

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// TestStateMachineProperty applies random command sequences and checks the
// session against a model of the Idle/Recording/Paused transitions
func TestStateMachineProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t.TempDir())
		defer h.close()
		ctx := context.Background()

		model := StateIdle
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"start", "pause", "resume", "stop"}), 1, 40).Draw(rt, "ops")

		for i, op := range ops {
			var err error
			next := model
			valid := false

			switch op {
			case "start":
				err = h.svc.Start(ctx, "prop", false)
				valid = model == StateIdle
				next = StateRecording
			case "pause":
				err = h.svc.Pause(ctx)
				valid = model == StateRecording
				next = StatePaused
			case "resume":
				err = h.svc.Resume(ctx)
				valid = model == StatePaused
				next = StateRecording
			case "stop":
				err = h.svc.Stop(ctx)
				valid = model != StateIdle
				next = StateIdle
			}

			if valid {
				if err != nil {
					rt.Fatalf("op %d (%s) from %s failed: %v", i, op, model, err)
				}
				model = next
			} else {
				wantErr := ErrInvalidStateTransition
				if op == "stop" {
					wantErr = ErrNoActiveSession
				}
				if !errors.Is(err, wantErr) {
					rt.Fatalf("op %d (%s) from %s: got %v, want %v", i, op, model, err, wantErr)
				}
			}

			snap := h.status()
			if snap.State != model.String() {
				rt.Fatalf("after op %d (%s): state %s, model %s", i, op, snap.State, model)
			}
			if (snap.OutputPath == "") != (model == StateIdle) {
				rt.Fatalf("after op %d (%s): output path %q in state %s", i, op, snap.OutputPath, model)
			}
			if ticking := h.ticking(); ticking != (model == StateRecording) {
				rt.Fatalf("after op %d (%s): ticking=%v in state %s", i, op, ticking, model)
			}
		}
	})
}
