package carla

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubClient fails Connect a configurable number of times
type stubClient struct {
	failures *int
	failWith error
}

func (s *stubClient) Connect(ctx context.Context) error {
	if *s.failures > 0 {
		*s.failures--
		return s.failWith
	}
	return nil
}

func (s *stubClient) StartEpisode(*EpisodeSettings) (*SceneDescription, error) {
	return &SceneDescription{}, nil
}
func (s *stubClient) ReadMeasurements() (*Measurements, error) { return &Measurements{}, nil }
func (s *stubClient) SendControl(*VehicleControl) error        { return nil }
func (s *stubClient) Close() error                             { return nil }

func TestDialSucceedsAfterTransientFailures(t *testing.T) {
	failures := 2
	attempts := 0
	dialer := func() Client {
		attempts++
		return &stubClient{failures: &failures, failWith: errors.New("connection refused")}
	}

	start := time.Now()
	client, err := Dial(context.Background(), dialer, 3, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("expected connected client, got %v", err)
	}
	if client == nil {
		t.Fatal("Dial returned nil client on success")
	}
	// Fails twice, succeeds on the third attempt
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
	// Slept between each of the 2 failed attempts
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected at least 2 sleeps of 10ms, elapsed %v", elapsed)
	}
}

func TestDialExhaustionIsTerminal(t *testing.T) {
	connectErr := errors.New("connection refused")
	attempts := 0
	failures := 1 << 30
	dialer := func() Client {
		attempts++
		return &stubClient{failures: &failures, failWith: connectErr}
	}

	client, err := Dial(context.Background(), dialer, 4, time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected terminal failure after exhaustion")
	}
	if client != nil {
		t.Error("exhausted Dial must not return a client")
	}
	// Exactly N attempts for maxAttempts=N, not N+1
	if attempts != 4 {
		t.Errorf("expected exactly 4 attempts, got %d", attempts)
	}
	if !errors.Is(err, connectErr) {
		t.Errorf("terminal error should wrap the last connect error, got %v", err)
	}
}

func TestDialFirstTrySkipsSleep(t *testing.T) {
	failures := 0
	dialer := func() Client {
		return &stubClient{failures: &failures}
	}

	start := time.Now()
	if _, err := Dial(context.Background(), dialer, 3, time.Second, nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("first-attempt success should not sleep, elapsed %v", elapsed)
	}
}
