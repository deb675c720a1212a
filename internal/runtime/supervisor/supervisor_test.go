package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func recorder(calls *[]string, name string, startErr error) Component {
	return NewComponent(name, func(ctx context.Context) error {
		*calls = append(*calls, "start:"+name)
		return startErr
	}, func(ctx context.Context) error {
		*calls = append(*calls, "stop:"+name)
		return nil
	})
}

func TestStartAndStopOrder(t *testing.T) {
	var calls []string
	s := New()
	s.Register(recorder(&calls, "idle-monitor", nil))
	s.Register(recorder(&calls, "listener", nil))
	s.Register(recorder(&calls, "dashboard", nil))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got := strings.Join(calls, ",")
	want := "start:idle-monitor,start:listener,start:dashboard,stop:dashboard,stop:listener,stop:idle-monitor"
	if got != want {
		t.Fatalf("calls = %s\nwant %s", got, want)
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	var calls []string
	boom := errors.New("bind failed")
	s := New()
	s.Register(recorder(&calls, "idle-monitor", nil))
	s.Register(recorder(&calls, "listener", boom))
	s.Register(recorder(&calls, "dashboard", nil))

	err := s.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
	if !strings.Contains(err.Error(), "listener") {
		t.Fatalf("error should name the component: %v", err)
	}
	got := strings.Join(calls, ",")
	if got != "start:idle-monitor,start:listener,stop:idle-monitor" {
		t.Fatalf("calls = %s", got)
	}
}

func TestRegisterAfterStartPanics(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	s.Register(NewComponent("late", nil, nil))
}

func TestStopReportsEveryFailure(t *testing.T) {
	var calls []string
	s := New()
	s.Register(NewComponent("idle-monitor", nil, func(context.Context) error {
		calls = append(calls, "stop:idle-monitor")
		return errors.New("still ticking")
	}))
	s.Register(NewComponent("listener", nil, func(context.Context) error {
		calls = append(calls, "stop:listener")
		return errors.New("sessions open")
	}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := s.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "still ticking") || !strings.Contains(err.Error(), "sessions open") {
		t.Fatalf("stop error = %v", err)
	}
	if strings.Join(calls, ",") != "stop:listener,stop:idle-monitor" {
		t.Fatalf("calls = %v", calls)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestStopAfterFailedStartIsNoop(t *testing.T) {
	var calls []string
	s := New()
	s.Register(recorder(&calls, "idle-monitor", nil))
	s.Register(recorder(&calls, "listener", errors.New("bind failed")))
	_ = s.Start(context.Background())
	calls = nil
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("rolled-back components stopped twice: %v", calls)
	}
	if got := strings.Join(s.Names(), ","); got != "idle-monitor,listener" {
		t.Fatalf("names = %s", got)
	}
}
