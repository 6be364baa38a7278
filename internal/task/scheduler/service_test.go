package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pacer/internal/action"
	"pacer/internal/dispatch"
	"pacer/internal/task/engine"
	logx "pacer/pkg/logx"
)

type recordingHandler struct {
	mu    sync.Mutex
	jobs  []dispatch.Job
	out   dispatch.Outcome
	fired chan dispatch.Job
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{out: dispatch.Outcome{Status: dispatch.Attempted, Success: true}, fired: make(chan dispatch.Job, 16)}
}

func (h *recordingHandler) Handle(_ context.Context, job dispatch.Job) dispatch.Outcome {
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	out := h.out
	h.mu.Unlock()
	h.fired <- job
	return out
}

type fakePacer struct {
	starts atomic.Int32
	limit  atomic.Bool
}

func (p *fakePacer) OffPeakMultiplier() float64 { return 1 }
func (p *fakePacer) Location() *time.Location   { return time.UTC }
func (p *fakePacer) LimitReached() bool         { return p.limit.Load() }

func (p *fakePacer) StartSession() {
	p.starts.Add(1)
	p.limit.Store(false)
}

// gatedHandler blocks every firing until release is closed and tracks how
// many firings overlap.
type gatedHandler struct {
	entered chan string
	release chan struct{}
	hold    time.Duration

	calls      atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32
}

func newGatedHandler() *gatedHandler {
	return &gatedHandler{entered: make(chan string, 16), release: make(chan struct{})}
}

func (h *gatedHandler) Handle(_ context.Context, job dispatch.Job) dispatch.Outcome {
	h.calls.Add(1)
	n := h.running.Add(1)
	for {
		m := h.maxRunning.Load()
		if n <= m || h.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	h.entered <- job.ID
	<-h.release
	time.Sleep(h.hold)
	h.running.Add(-1)
	return dispatch.Outcome{Status: dispatch.Attempted, Success: true}
}

var fastConfig = Config{
	Default:          Bounds{Min: time.Millisecond, Max: 2 * time.Millisecond},
	RecurringInitial: Bounds{Min: time.Millisecond, Max: 2 * time.Millisecond},
	OneTimeInitial:   Bounds{Min: time.Millisecond, Max: 2 * time.Millisecond},
}

func newTestService(t *testing.T, cfg Config, h dispatch.Handler, p Pacer) *Service {
	t.Helper()
	exec := engine.New(engine.Config{}, logx.Nop(), nil)
	exec.Start(context.Background())
	s := New(cfg, exec, h, p, logx.Nop(), nil)
	t.Cleanup(func() {
		s.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		exec.Stop(ctx)
	})
	return s
}

func waitFired(t *testing.T, h *recordingHandler, within time.Duration) dispatch.Job {
	t.Helper()
	select {
	case j := <-h.fired:
		return j
	case <-time.After(within):
		t.Fatalf("job did not fire within %s", within)
		return dispatch.Job{}
	}
}

func waitInactive(t *testing.T, s *Service, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.IsActive(id) {
		if time.Now().After(deadline) {
			t.Fatalf("%s still active", id)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartTaskRecurringIsIdempotent(t *testing.T) {
	t.Parallel()

	// Long initial delay so nothing fires during the test.
	cfg := Config{RecurringInitial: Bounds{Min: time.Hour, Max: time.Hour}}
	s := newTestService(t, cfg, newRecordingHandler(), &fakePacer{})

	if !s.StartTask("follow", dispatch.Recurring, nil) {
		t.Fatalf("first StartTask failed")
	}
	if !s.StartTask("follow", dispatch.Recurring, action.Options{"x": 1}) {
		t.Fatalf("second StartTask must succeed")
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].ID != "follow" {
		t.Fatalf("jobs = %+v, want one live follow job", snap.Jobs)
	}
	if !s.IsActive("follow") {
		t.Fatalf("follow not active")
	}
}

func TestStartTaskRejectsEmptyName(t *testing.T) {
	t.Parallel()

	s := newTestService(t, fastConfig, newRecordingHandler(), &fakePacer{})
	if s.StartTask("  ", dispatch.Recurring, nil) {
		t.Fatalf("empty name must be rejected")
	}
}

func TestStopTask(t *testing.T) {
	t.Parallel()

	cfg := Config{RecurringInitial: Bounds{Min: time.Hour, Max: time.Hour}}
	s := newTestService(t, cfg, newRecordingHandler(), &fakePacer{})

	if s.StopTask("missing") {
		t.Fatalf("StopTask(unknown) = true")
	}
	s.StartTask("follow", dispatch.Recurring, nil)
	if !s.StopTask("follow") {
		t.Fatalf("StopTask(follow) = false")
	}
	if s.IsActive("follow") {
		t.Fatalf("follow still active after stop")
	}
	if s.StopTask("follow") {
		t.Fatalf("second StopTask = true")
	}
}

func TestOneTimeFiresOnceWithUniqueID(t *testing.T) {
	t.Parallel()

	h := newRecordingHandler()
	s := newTestService(t, fastConfig, h, &fakePacer{})

	s.StartTask("visit", dispatch.OneTime, action.Options{"target": "someaccount"})
	s.StartTask("visit", dispatch.OneTime, action.Options{"target": "someaccount"})

	a := waitFired(t, h, 2*time.Second)
	b := waitFired(t, h, 2*time.Second)
	if a.ID == b.ID {
		t.Fatalf("one-time ids collide: %s", a.ID)
	}
	for _, j := range []dispatch.Job{a, b} {
		if j.Kind != dispatch.OneTime || !strings.HasPrefix(j.ID, "visit_someacco_") {
			t.Fatalf("job = %+v", j)
		}
		if j.Options.String("target") != "someaccount" {
			t.Fatalf("target option lost: %v", j.Options)
		}
		waitInactive(t, s, j.ID)
	}

	select {
	case j := <-h.fired:
		t.Fatalf("one-time job fired again: %+v", j)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecurringReschedulesAfterFiring(t *testing.T) {
	t.Parallel()

	h := newRecordingHandler()
	s := newTestService(t, fastConfig, h, &fakePacer{})
	s.StartTask("scan", dispatch.Recurring, nil)

	waitFired(t, h, 2*time.Second)
	// Intervals are clamped to at least one second.
	waitFired(t, h, 3*time.Second)
	if !s.IsActive("scan") {
		t.Fatalf("recurring job dropped")
	}
	if got := s.Snapshot().Jobs[0].Firings; got < 2 {
		t.Fatalf("firings = %d, want >= 2", got)
	}
}

func TestDeregisterDropsRecurringJob(t *testing.T) {
	t.Parallel()

	h := newRecordingHandler()
	h.out = dispatch.Outcome{Status: dispatch.Idle, Reason: "empty_queue", Deregister: true}
	s := newTestService(t, fastConfig, h, &fakePacer{})

	s.StartTask("unfollow", dispatch.Recurring, nil)
	waitFired(t, h, 2*time.Second)
	waitInactive(t, s, "unfollow")
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{}, newRecordingHandler(), &fakePacer{})
	s.Shutdown()
	s.Shutdown()

	if s.StartTask("follow", dispatch.Recurring, nil) {
		t.Fatalf("StartTask after Shutdown = true")
	}
	if !s.Snapshot().Closed {
		t.Fatalf("snapshot not closed")
	}
}

func TestShutdownCancelsPendingTimers(t *testing.T) {
	t.Parallel()

	h := newRecordingHandler()
	cfg := fastConfig
	cfg.RecurringInitial = Bounds{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond}
	s := newTestService(t, cfg, h, &fakePacer{})

	s.StartTask("follow", dispatch.Recurring, nil)
	s.Shutdown()

	select {
	case j := <-h.fired:
		t.Fatalf("fired after Shutdown: %+v", j)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStopAllResumesOnAutoRestart(t *testing.T) {
	t.Parallel()

	p := &fakePacer{}
	cfg := Config{RecurringInitial: Bounds{Min: time.Hour, Max: time.Hour}}
	s := newTestService(t, cfg, newRecordingHandler(), p)

	s.StartTask("follow", dispatch.Recurring, action.Options{"interval_min": "2m"})
	s.StartTask("visit", dispatch.OneTime, nil)
	s.StopAll("session_limit")

	snap := s.Snapshot()
	if len(snap.Jobs) != 0 {
		t.Fatalf("jobs after StopAll = %+v", snap.Jobs)
	}
	if len(snap.Halted) != 1 || snap.Halted[0] != "follow" {
		t.Fatalf("halted = %v, want [follow]", snap.Halted)
	}

	s.autoRestart()
	if p.starts.Load() != 1 {
		t.Fatalf("StartSession calls = %d, want 1", p.starts.Load())
	}
	if !s.IsActive("follow") {
		t.Fatalf("follow not resumed")
	}
	if s.IsActive("visit") {
		t.Fatalf("one-time job must not be resumed")
	}
}

func TestRecurringBoundsFromOptions(t *testing.T) {
	t.Parallel()

	s := New(Config{Delays: map[string]Bounds{"follow": {Min: 40 * time.Second, Max: 80 * time.Second}}}, nil, nil, nil, logx.Nop(), nil)
	defer s.Shutdown()

	cases := []struct {
		name string
		job  string
		opts action.Options
		want Bounds
	}{
		{"default", "other", nil, DefaultInterval},
		{"per name", "follow", nil, Bounds{Min: 40 * time.Second, Max: 80 * time.Second}},
		{"seconds override", "follow", action.Options{"interval_min": 5, "interval_max": "9"}, Bounds{Min: 5 * time.Second, Max: 9 * time.Second}},
		{"duration override", "other", action.Options{"interval_max": "2m"}, Bounds{Min: 30 * time.Second, Max: 2 * time.Minute}},
		{"invalid ignored", "other", action.Options{"interval_min": "soon"}, DefaultInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.recurringBoundsLocked(tc.job, tc.opts); got != tc.want {
				t.Fatalf("bounds = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestStartTaskRejectedAfterSessionLimit(t *testing.T) {
	t.Parallel()

	p := &fakePacer{}
	cfg := Config{RecurringInitial: Bounds{Min: time.Hour, Max: time.Hour}, OneTimeInitial: Bounds{Min: time.Hour, Max: time.Hour}}
	s := newTestService(t, cfg, newRecordingHandler(), p)

	p.limit.Store(true)
	if s.StartTask("follow", dispatch.Recurring, nil) {
		t.Fatalf("recurring StartTask accepted after session limit")
	}
	if s.StartTask("visit", dispatch.OneTime, nil) {
		t.Fatalf("one-time StartTask accepted after session limit")
	}
	if n := len(s.Snapshot().Jobs); n != 0 {
		t.Fatalf("jobs = %d, want 0", n)
	}

	p.StartSession()
	if !s.StartTask("follow", dispatch.Recurring, nil) {
		t.Fatalf("StartTask rejected after a new session")
	}
}

func TestStopTaskDuringFiringSuppressesReschedule(t *testing.T) {
	t.Parallel()

	h := newGatedHandler()
	s := newTestService(t, fastConfig, h, &fakePacer{})

	s.StartTask("scan", dispatch.Recurring, nil)
	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("scan did not fire")
	}
	if !s.StopTask("scan") {
		t.Fatalf("StopTask(scan) during firing = false")
	}
	close(h.release)

	// The next interval is at least one second.
	select {
	case id := <-h.entered:
		t.Fatalf("%s fired again after StopTask", id)
	case <-time.After(1500 * time.Millisecond):
	}
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if s.IsActive("scan") {
		t.Fatalf("scan active after StopTask")
	}
}

func TestStopOneTimeDuringFiring(t *testing.T) {
	t.Parallel()

	h := newGatedHandler()
	s := newTestService(t, fastConfig, h, &fakePacer{})

	s.StartTask("visit", dispatch.OneTime, action.Options{"target": "alice"})
	var id string
	select {
	case id = <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("visit did not fire")
	}
	if !s.StopTask(id) {
		t.Fatalf("StopTask(%s) during firing = false", id)
	}
	close(h.release)
	waitInactive(t, s, id)
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSameNameFiringsDoNotOverlap(t *testing.T) {
	t.Parallel()

	h := newGatedHandler()
	h.hold = 20 * time.Millisecond
	close(h.release)
	s := newTestService(t, fastConfig, h, &fakePacer{})

	s.StartTask("visit", dispatch.Recurring, nil)
	for i := 0; i < 3; i++ {
		s.StartTask("visit", dispatch.OneTime, action.Options{"target": "bob"})
	}
	for i := 0; i < 4; i++ {
		select {
		case <-h.entered:
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d of 4 firings ran", i)
		}
	}
	if got := h.maxRunning.Load(); got != 1 {
		t.Fatalf("max concurrent firings = %d, want 1", got)
	}
}
