package auditpipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/velro/authz-core/internal/domain/audit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSink struct {
	mu     sync.Mutex
	events []*audit.Event
	fail   bool
}

func (s *fakeSink) Write(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errFakeSink
	}
	s.events = append(s.events, e)
	return nil
}
func (s *fakeSink) Close() error { return nil }
func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFakeSink = fakeErr("sink unavailable")

func TestPipeline_EmitFlushesOnIntervalAndReachesAllSinks(t *testing.T) {
	t.Parallel()

	s1, s2 := &fakeSink{}, &fakeSink{}
	p := New([]audit.Sink{s1, s2}, nil, WithFlushInterval(10*time.Millisecond))
	p.Start(t.Context())

	e := audit.NewEvent("a1", time.Now(), "u1", "granted")
	p.Emit(e)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s1.count() == 1 && s2.count() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if s1.count() != 1 || s2.count() != 1 {
		t.Fatalf("sink counts = (%d, %d), want (1, 1)", s1.count(), s2.count())
	}
}

func TestPipeline_OneSinkFailureDoesNotDropEvent(t *testing.T) {
	t.Parallel()

	ok := &fakeSink{}
	broken := &fakeSink{fail: true}
	p := New([]audit.Sink{ok, broken}, nil, WithFlushInterval(10*time.Millisecond))
	p.Start(t.Context())

	p.Emit(audit.NewEvent("a2", time.Now(), "u1", "denied"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ok.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if ok.count() != 1 {
		t.Fatalf("surviving sink count = %d, want 1", ok.count())
	}
}
