package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trackflow/trackflow/pkg/errors"
)

var t0 = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestStartStopCycle(t *testing.T) {
	m := New()

	if m.State() != Idle {
		t.Fatalf("fresh machine should be idle, got %v", m.State())
	}
	if !m.Start(t0) {
		t.Fatal("start from idle should succeed")
	}
	if m.State() != Active {
		t.Fatalf("expected ACTIVE, got %v", m.State())
	}
	if m.ID() == uuid.Nil {
		t.Fatal("running session should carry an identifier")
	}
	if m.Start(t0.Add(time.Second)) {
		t.Fatal("start while running should be rejected")
	}

	sum, ok := m.Stop(t0.Add(90 * time.Second))
	if !ok {
		t.Fatal("stop of a running session should succeed")
	}
	if sum.Expired {
		t.Fatal("operator stop must not be reported as expiry")
	}
	if got := sum.StoppedAt.Sub(sum.StartedAt); got != 90*time.Second {
		t.Fatalf("summary span = %v, want 90s", got)
	}
	if m.State() != Idle || m.ID() != uuid.Nil {
		t.Fatal("machine should be fully reset after stop")
	}
	if _, ok := m.Stop(t0); ok {
		t.Fatal("stop while idle should report nothing to stop")
	}
}

func TestLinkPauseResume(t *testing.T) {
	m := New()

	if m.LinkConnected() {
		t.Fatal("connect while idle must not pause")
	}

	m.Start(t0)
	if !m.LinkConnected() {
		t.Fatal("connect while active should pause")
	}
	if m.State() != Paused {
		t.Fatalf("expected PAUSED, got %v", m.State())
	}
	if m.ShouldSample(t0.Add(time.Hour)) {
		t.Fatal("paused session must not sample")
	}
	if !m.LinkDisconnected() {
		t.Fatal("disconnect while paused should resume")
	}
	if m.State() != Active {
		t.Fatalf("expected ACTIVE after resume, got %v", m.State())
	}

	// Stop works from Paused too.
	m.LinkConnected()
	if _, ok := m.Stop(t0.Add(time.Minute)); !ok {
		t.Fatal("stop from paused should succeed")
	}
}

func TestStartWhileLinkUpBeginsPaused(t *testing.T) {
	m := New()
	m.LinkConnected()

	if !m.Start(t0) {
		t.Fatal("start while idle should succeed")
	}
	if m.State() != Paused {
		t.Fatalf("session started during a link session = %v, want PAUSED", m.State())
	}
	if m.ShouldSample(t0.Add(time.Hour)) {
		t.Fatal("must not sample while the operator link is up")
	}

	if !m.LinkDisconnected() {
		t.Fatal("disconnect should resume the pending session")
	}
	if m.State() != Active {
		t.Fatalf("expected ACTIVE after disconnect, got %v", m.State())
	}
	if !m.ShouldSample(t0.Add(time.Hour)) {
		t.Fatal("sampling should resume once the operator disconnects")
	}
}

func TestDurationExpiry(t *testing.T) {
	m := New()
	m.Start(t0)

	if _, expired := m.Tick(t0.Add(DefaultDuration - time.Second)); expired {
		t.Fatal("session expired before its duration elapsed")
	}
	sum, expired := m.Tick(t0.Add(DefaultDuration))
	if !expired {
		t.Fatal("session should expire once the duration elapses")
	}
	if !sum.Expired {
		t.Fatal("expiry summary should be flagged as expired")
	}
	if m.State() != Idle {
		t.Fatalf("expected IDLE after expiry, got %v", m.State())
	}
}

func TestPausedSessionDoesNotExpire(t *testing.T) {
	m := New()
	m.Start(t0)
	m.LinkConnected()

	if _, expired := m.Tick(t0.Add(2 * DefaultDuration)); expired {
		t.Fatal("paused session must not expire while the operator is attached")
	}
}

func TestSamplingInterval(t *testing.T) {
	m := New()

	if m.ShouldSample(t0) {
		t.Fatal("idle machine must not sample")
	}

	m.Start(t0)
	if !m.ShouldSample(t0) {
		t.Fatal("first sample after start should be due immediately")
	}
	if m.ShouldSample(t0.Add(DefaultInterval - time.Millisecond)) {
		t.Fatal("sample issued before the interval elapsed")
	}
	if !m.ShouldSample(t0.Add(DefaultInterval)) {
		t.Fatal("sample should be due once the interval elapses")
	}
}

func TestSetDurationBounds(t *testing.T) {
	m := New()

	if err := m.SetDuration(0); !errors.IsCode(err, errors.CodeBadParameter) {
		t.Fatalf("duration 0 should be rejected, got %v", err)
	}
	if err := m.SetDuration(1441); !errors.IsCode(err, errors.CodeBadParameter) {
		t.Fatalf("duration 1441 should be rejected, got %v", err)
	}
	if err := m.SetDuration(15); err != nil {
		t.Fatalf("duration 15 should be accepted, got %v", err)
	}
	if m.Duration() != 15*time.Minute {
		t.Fatalf("duration = %v, want 15m", m.Duration())
	}
}

func TestSetIntervalClamps(t *testing.T) {
	m := New()

	if got := m.SetInterval(500); got != MinInterval {
		t.Fatalf("interval 500ms should clamp to %v, got %v", MinInterval, got)
	}
	if got := m.SetInterval(600000); got != MaxInterval {
		t.Fatalf("interval 600s should clamp to %v, got %v", MaxInterval, got)
	}
	if got := m.SetInterval(30000); got != 30*time.Second {
		t.Fatalf("interval = %v, want 30s", got)
	}
}

func TestQuickTrackPreset(t *testing.T) {
	m := New()

	if !m.QuickTrack(t0) {
		t.Fatal("quick track from idle should start a session")
	}
	if m.State() != Active {
		t.Fatalf("expected ACTIVE, got %v", m.State())
	}
	if m.Interval() != QuickTrackInterval {
		t.Fatalf("interval = %v, want %v", m.Interval(), QuickTrackInterval)
	}
	if m.Duration() != QuickTrackDuration {
		t.Fatalf("duration = %v, want %v", m.Duration(), QuickTrackDuration)
	}
	if m.QuickTrack(t0) {
		t.Fatal("quick track while running should be rejected")
	}
}

func TestRemaining(t *testing.T) {
	m := New()
	if m.Remaining(t0) != 0 {
		t.Fatal("idle machine has no remaining budget")
	}
	m.Start(t0)
	if got := m.Remaining(t0.Add(2 * time.Minute)); got != 3*time.Minute {
		t.Fatalf("remaining = %v, want 3m", got)
	}
	if got := m.Remaining(t0.Add(time.Hour)); got != 0 {
		t.Fatalf("remaining past expiry = %v, want 0", got)
	}
}
