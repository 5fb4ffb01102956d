package clients

import "fmt"

// Status is the recording status reported to clients
type Status string

const (
	StatusReady     Status = "ready"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

// Kind identifies an event payload
type Kind string

const (
	KindStatus    Kind = "status"
	KindAmplitude Kind = "amplitude"
	KindElapsed   Kind = "elapsed"
)

// Event is one notification delivered to every registered client
type Event struct {
	Kind      Kind   `json:"kind"`
	Status    Status `json:"status,omitempty"`
	Amplitude *int   `json:"amplitude,omitempty"`
	Elapsed   *int64 `json:"elapsed,omitempty"`
}

func StatusEvent(s Status) Event {
	return Event{Kind: KindStatus, Status: s}
}

func AmplitudeEvent(amplitude int) Event {
	return Event{Kind: KindAmplitude, Amplitude: &amplitude}
}

func ElapsedEvent(seconds int64) Event {
	return Event{Kind: KindElapsed, Elapsed: &seconds}
}

func (e Event) String() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("status=%s", e.Status)
	case KindAmplitude:
		if e.Amplitude != nil {
			return fmt.Sprintf("amplitude=%d", *e.Amplitude)
		}
	case KindElapsed:
		if e.Elapsed != nil {
			return fmt.Sprintf("elapsed=%ds", *e.Elapsed)
		}
	}
	return string(e.Kind)
}
