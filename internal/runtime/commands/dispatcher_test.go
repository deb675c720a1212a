package commands

import (
	"context"
	"errors"
	"testing"
)

type pingCommand struct{}

func (pingCommand) Name() string { return "test.ping" }

type otherCommand struct{}

func (otherCommand) Name() string { return "test.other" }

func TestDispatchRunsMiddlewareInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.Register("test.ping", HandlerFunc(func(ctx context.Context, cmd Command) (Response, error) {
		order = append(order, "handler")
		return "pong", nil
	}))
	d.Use(func(ctx context.Context, cmd Command, next Handler) (Response, error) {
		order = append(order, "outer")
		return next.Handle(ctx, cmd)
	})
	d.Use(func(ctx context.Context, cmd Command, next Handler) (Response, error) {
		order = append(order, "inner")
		return next.Handle(ctx, cmd)
	})
	d.Use(AuditLog)

	resp, err := d.Dispatch(context.Background(), pingCommand{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp != "pong" {
		t.Fatalf("unexpected response %v", resp)
	}
	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), otherCommand{})
	var unknown ErrUnknownCommand
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc(func(ctx context.Context, cmd Command) (Response, error) { return nil, nil })
	d.Register("test.ping", h)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	d.Register("test.ping", h)
}

func TestNamesSorted(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc(func(ctx context.Context, cmd Command) (Response, error) { return nil, nil })
	d.Register("b", h)
	d.Register("a", h)
	names := d.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}
}
