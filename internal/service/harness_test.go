package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundrecorder/internal/audio"
	"github.com/audiolibrelab/soundrecorder/internal/clients"
	"github.com/audiolibrelab/soundrecorder/internal/host"
	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"
)

type fakeRecorder struct {
	mu        sync.Mutex
	ext       string
	startErr  error
	stopErr   error
	calls     []string
	path      string
	amplitude int
}

func (r *fakeRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRecorder) Start(path string) error {
	r.record("start")
	if r.startErr != nil {
		return r.startErr
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) Pause() error  { r.record("pause"); return nil }
func (r *fakeRecorder) Resume() error { r.record("resume"); return nil }

func (r *fakeRecorder) Stop() error {
	r.record("stop")
	return r.stopErr
}

func (r *fakeRecorder) CurrentAmplitude() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.amplitude
}

func (r *fakeRecorder) MimeType() string {
	if r.ext == "wav" {
		return "audio/wav"
	}
	return "audio/ogg"
}

func (r *fakeRecorder) FileExtension() string { return r.ext }

func (r *fakeRecorder) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeFactory hands out fakeRecorders and remembers them
type fakeFactory struct {
	mu        sync.Mutex
	recorders []*fakeRecorder
	qualities []audio.Quality
	startErr  error
	stopErr   error
}

func (f *fakeFactory) NewRecorder(q audio.Quality) audio.Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	ext := "ogg"
	if q == audio.QualityHigh {
		ext = "wav"
	}
	r := &fakeRecorder{ext: ext, startErr: f.startErr, stopErr: f.stopErr}
	f.recorders = append(f.recorders, r)
	f.qualities = append(f.qualities, q)
	return r
}

func (f *fakeFactory) last() *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recorders) == 0 {
		return nil
	}
	return f.recorders[len(f.recorders)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorders)
}

type commit struct {
	path  string
	album string
	mime  string
	ref   string
}

type fakeLibrary struct {
	mu        sync.Mutex
	commits   []commit
	deleted   []string
	commitErr error
	deleteErr error
}

func (l *fakeLibrary) Commit(tempPath, album, mimeType string) (library.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commitErr != nil {
		return library.Item{}, l.commitErr
	}
	ref := fmt.Sprintf("item-%d", len(l.commits)+1)
	l.commits = append(l.commits, commit{path: tempPath, album: album, mime: mimeType, ref: ref})
	return library.Item{Ref: ref, Album: album, MimeType: mimeType}, nil
}

func (l *fakeLibrary) Delete(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, ref)
	return l.deleteErr
}

func (l *fakeLibrary) snapshot() ([]commit, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]commit(nil), l.commits...), append([]string(nil), l.deleted...)
}

type job struct {
	name string
	run  func() error
	done func(error)
}

// manualQueue holds jobs until the test flushes them
type manualQueue struct {
	mu         sync.Mutex
	jobs       []job
	submitted  []string
	terminated bool
}

func (q *manualQueue) Submit(name string, run func() error, done func(error)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return false
	}
	q.jobs = append(q.jobs, job{name: name, run: run, done: done})
	q.submitted = append(q.submitted, name)
	return true
}

func (q *manualQueue) Terminate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.terminated = true
	q.jobs = nil
}

// flush runs every queued job on the calling goroutine
func (q *manualQueue) flush() int {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	for _, j := range jobs {
		err := j.run()
		if j.done != nil {
			j.done(err)
		}
	}
	return len(jobs)
}

func (q *manualQueue) isTerminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}

type fakeForeground struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (f *fakeForeground) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
	f.acquired++
	return nil
}

func (f *fakeForeground) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
}

func (f *fakeForeground) state() (held bool, acquired int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held, f.acquired
}

type eventLog struct {
	mu     sync.Mutex
	events []clients.Event
}

func (l *eventLog) Send(ev clients.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []clients.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]clients.Event(nil), l.events...)
}

// without drops events of the given kind
func (l *eventLog) without(kind clients.Kind) []clients.Event {
	var out []clients.Event
	for _, ev := range l.all() {
		if ev.Kind != kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) statuses() []clients.Status {
	var out []clients.Status
	for _, ev := range l.all() {
		if ev.Kind == clients.KindStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type harness struct {
	svc        *RecorderService
	factory    *fakeFactory
	library    *fakeLibrary
	queue      *manualQueue
	prefs      *prefs.Store
	foreground *fakeForeground
	events     *eventLog

	mu      sync.Mutex
	permErr error

	cancel  context.CancelFunc
	stopped chan struct{}
}

type harnessOption func(*harness, *Options)

func withPrefs(fn func(*prefs.Store)) harnessOption {
	return func(h *harness, _ *Options) { fn(h.prefs) }
}

// withFixedClock pins Now so consecutive recordings share a timestamp
func withFixedClock(at time.Time) harnessOption {
	return func(_ *harness, o *Options) {
		o.Now = func() time.Time { return at }
	}
}

func newHarness(dir string, opts ...harnessOption) *harness {
	h := &harness{
		factory:    &fakeFactory{},
		library:    &fakeLibrary{},
		queue:      &manualQueue{},
		prefs:      prefs.NewMemory(),
		foreground: &fakeForeground{},
		events:     &eventLog{},
		stopped:    make(chan struct{}),
	}

	clock := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex

	o := Options{
		RecordingsDir: dir,
		Recorders:     h.factory,
		Library:       h.library,
		Tasks:         h.queue,
		Prefs:         h.prefs,
		Permissions: host.PermissionFunc(func() error {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.permErr
		}),
		Foreground:        h.foreground,
		ElapsedInterval:   time.Hour,
		AmplitudeInterval: time.Hour,
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	}
	for _, opt := range opts {
		opt(h, &o)
	}

	h.svc = New(o)
	h.svc.Registry().Register(clients.Client{Token: uuid.New(), Reply: h.events})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		h.svc.Run(ctx)
	}()
	return h
}

func startHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := newHarness(t.TempDir(), opts...)
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.cancel()
	<-h.stopped
}

func (h *harness) denyPermission(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.permErr = err
}

// sync waits until every command posted so far has been processed
func (h *harness) sync() {
	h.svc.do(context.Background(), func() error { return nil })
}

// settle runs queued jobs and their callbacks until nothing is left
func (h *harness) settle() {
	for i := 0; i < 20; i++ {
		n := h.queue.flush()
		h.sync()
		if n == 0 {
			return
		}
	}
}

// tick delivers n elapsed ticks of the running generation
func (h *harness) tick(n int) {
	h.svc.do(context.Background(), func() error {
		for i := 0; i < n && h.svc.ticks != nil; i++ {
			h.svc.onTick(h.svc.ticks.gen, tickElapsed)
		}
		return nil
	})
}

func (h *harness) ticking() bool {
	var running bool
	h.svc.do(context.Background(), func() error {
		running = h.svc.ticks != nil
		return nil
	})
	return running
}

func (h *harness) status() Snapshot {
	snap, err := h.svc.Status(context.Background())
	if err != nil {
		panic(err)
	}
	return snap
}

var errNoMic = errors.New("microphone unavailable")
