package service

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundrecorder/internal/audio"
	"github.com/audiolibrelab/soundrecorder/internal/clients"
	"github.com/audiolibrelab/soundrecorder/internal/host"
	"github.com/audiolibrelab/soundrecorder/internal/library"
)

// Service is the recording daemon's control surface. Every call is
// executed on the service's serial loop, so Run must be running.
type Service interface {
	// Session operations
	Start(ctx context.Context, tag string, circular bool) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// Client operations
	Register(ctx context.Context, c clients.Client) error
	Unregister(ctx context.Context, token uuid.UUID) (bool, error)

	// Information operations
	Status(ctx context.Context) (Snapshot, error)
}

// State is the session state
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Snapshot is a point-in-time view of the service
type Snapshot struct {
	State         string   `json:"state"`
	Tag           string   `json:"tag,omitempty"`
	OutputPath    string   `json:"output_path,omitempty"`
	Elapsed       int64    `json:"elapsed"`
	Circular      bool     `json:"circular"`
	Group         string   `json:"group,omitempty"`
	Retained      []string `json:"retained,omitempty"`
	PendingCommit bool     `json:"pending_commit"`
	Clients       int      `json:"clients"`
	LastItem      string   `json:"last_item,omitempty"`
}

// Library commits finished recordings and deletes evicted ones
type Library interface {
	Commit(tempPath, album, mimeType string) (library.Item, error)
	Delete(ref string) error
}

// TaskQueue runs commit and delete operations off the serial loop
type TaskQueue interface {
	Submit(name string, run func() error, done func(error)) bool
	Terminate()
}

// Preferences is the durable key/value store the session reads its
// settings from and records its progress in
type Preferences interface {
	HighQuality() bool
	CircularRecording() bool
	CircularPeriod() int64
	CircularNumber() int
	CurrentlyRecording() bool
	LastItem() string
	SetCurrentlyRecording(v bool) error
	SetLastItem(ref string) error
}

const (
	// DefaultTag names recordings started without a tag
	DefaultTag = "Sound record"

	DefaultElapsedInterval   = time.Second
	DefaultAmplitudeInterval = 350 * time.Millisecond
)

// Options wires the service to its collaborators
type Options struct {
	RecordingsDir string
	Recorders     audio.Factory
	Library       Library
	Tasks         TaskQueue
	Prefs         Preferences
	Permissions   host.Permissions
	Foreground    host.Foreground
	Registry      *clients.Registry

	// ShutdownSignal stops and saves the active recording when received.
	// UserPresentSignal re-arms a session interrupted by a daemon restart.
	// Nil disables the observer.
	ShutdownSignal    os.Signal
	UserPresentSignal os.Signal

	ElapsedInterval   time.Duration
	AmplitudeInterval time.Duration
	Now               func() time.Time
}

// RecorderService implements Service. Session and rotation state are
// owned by the goroutine executing Run.
type RecorderService struct {
	opts     Options
	registry *clients.Registry

	commands chan func()
	done     chan struct{}

	session  session
	rotation *rotation
	pending  []*pendingCommit
	ticks    *tickSource
	gen      uint64

	// rearm is set when the previous daemon died mid-recording
	rearm bool
}

var _ Service = (*RecorderService)(nil)

// New creates a recorder service. Call Run to start processing commands.
func New(opts Options) *RecorderService {
	if opts.Registry == nil {
		opts.Registry = clients.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ElapsedInterval <= 0 {
		opts.ElapsedInterval = DefaultElapsedInterval
	}
	if opts.AmplitudeInterval <= 0 {
		opts.AmplitudeInterval = DefaultAmplitudeInterval
	}

	return &RecorderService{
		opts:     opts,
		registry: opts.Registry,
		commands: make(chan func(), 16),
		done:     make(chan struct{}),
	}
}

// Registry returns the client registry events are broadcast through
func (s *RecorderService) Registry() *clients.Registry {
	return s.registry
}

// Start begins a new recording
func (s *RecorderService) Start(ctx context.Context, tag string, circular bool) error {
	return s.do(ctx, func() error {
		return s.startRecording(tag, circular)
	})
}

// Stop ends the active recording and hands the file to the library
func (s *RecorderService) Stop(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.stopRecording(false)
	})
}

// Pause suspends the active recording
func (s *RecorderService) Pause(ctx context.Context) error {
	return s.do(ctx, s.pauseRecording)
}

// Resume continues a paused recording
func (s *RecorderService) Resume(ctx context.Context) error {
	return s.do(ctx, s.resumeRecording)
}

// Register adds a client and sends it the current status
func (s *RecorderService) Register(ctx context.Context, c clients.Client) error {
	return s.do(ctx, func() error {
		return s.registry.Register(c, s.currentEvents()...)
	})
}

// Unregister removes a client; absent tokens are not an error
func (s *RecorderService) Unregister(ctx context.Context, token uuid.UUID) (bool, error) {
	var removed bool
	err := s.do(ctx, func() error {
		removed = s.registry.Unregister(token)
		return nil
	})
	return removed, err
}

// Status returns a snapshot of the session and rotation
func (s *RecorderService) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// Shutdown stops and saves the active recording, if any
func (s *RecorderService) Shutdown(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.onShutdown()
		return nil
	})
}

// UserPresent restarts a recording interrupted by a daemon restart
func (s *RecorderService) UserPresent(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.onUserPresent()
		return nil
	})
}

// do runs fn on the serial loop and waits for its result
func (s *RecorderService) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	cmd := func() { reply <- fn() }

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServiceStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrServiceStopped
		}
	}
}

// post queues fn on the serial loop without waiting. It reports false
// once the loop has exited.
func (s *RecorderService) post(fn func()) bool {
	select {
	case s.commands <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *RecorderService) currentEvents() []clients.Event {
	events := []clients.Event{clients.StatusEvent(s.session.clientStatus())}
	if s.session.state != StateIdle {
		events = append(events, clients.ElapsedEvent(s.session.elapsed))
	}
	return events
}

func (s *RecorderService) snapshot() Snapshot {
	snap := Snapshot{
		State:         s.session.state.String(),
		Tag:           s.session.tag,
		OutputPath:    s.session.outputPath,
		Elapsed:       s.session.elapsed,
		Circular:      s.session.circular,
		PendingCommit: len(s.pending) > 0,
		Clients:       s.registry.Len(),
		LastItem:      s.opts.Prefs.LastItem(),
	}
	if s.rotation != nil {
		snap.Group = s.rotation.groupID
		snap.Retained = append([]string(nil), s.rotation.retained...)
	}
	return snap
}
