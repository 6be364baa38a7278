package action

import (
	"context"
	"errors"
	"fmt"
	"testing"

	logx "pacer/pkg/logx"
)

func TestBlockSignal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		msg  string
		want bool
	}{
		{"typed", Blocked(errors.New("challenge shown")), "", true},
		{"wrapped typed", fmt.Errorf("follow: %w", Blocked(errors.New("x"))), "", true},
		{"error text", errors.New("Action Blocked by server"), "", true},
		{"message text", errors.New("failed"), "rate limit exceeded", true},
		{"try again", errors.New("please try again later"), "", true},
		{"transient", errors.New("element not found"), "timeout", false},
		{"nothing", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, got := BlockSignal(tc.err, tc.msg); got != tc.want {
				t.Fatalf("BlockSignal(%v, %q) = %v, want %v", tc.err, tc.msg, got, tc.want)
			}
		})
	}
}

func TestBlockedNil(t *testing.T) {
	t.Parallel()

	if Blocked(nil) != nil {
		t.Fatalf("Blocked(nil) must be nil")
	}
	if IsBlocked(errors.New("plain")) {
		t.Fatalf("plain error is not blocked")
	}
}

func TestIsEmptyQueue(t *testing.T) {
	t.Parallel()

	if !IsEmptyQueue(Result{}, fmt.Errorf("load: %w", ErrEmptyQueue)) {
		t.Fatalf("wrapped ErrEmptyQueue not detected")
	}
	if !IsEmptyQueue(Result{EmptyQueue: true}, nil) {
		t.Fatalf("Result.EmptyQueue not detected")
	}
	if IsEmptyQueue(Result{}, errors.New("other")) {
		t.Fatalf("unexpected empty-queue marker")
	}
}

func TestRatioBoundsProtects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		b    RatioBounds
		r    float64
		want bool
	}{
		{RatioBounds{}, 5, false},
		{RatioBounds{Min: 1}, 0.5, false},
		{RatioBounds{Min: 1}, 1, true},
		{RatioBounds{Min: 1}, 100, true},
		{RatioBounds{Max: 2}, 3, false},
		{RatioBounds{Max: 2}, 0, true},
		{RatioBounds{Min: 1, Max: 2}, 1.5, true},
		{RatioBounds{Min: 1, Max: 2}, 2.5, false},
	}
	for _, tc := range cases {
		if got := tc.b.Protects(tc.r); got != tc.want {
			t.Fatalf("%+v.Protects(%v) = %v, want %v", tc.b, tc.r, got, tc.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Lookup("follow"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if err := r.Register(" ", Func(nil)); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	noop := Func(func(context.Context, Options) (Result, error) { return Result{Message: "done"}, nil })
	if err := r.Register("follow", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a, err := r.Lookup("follow")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	res, err := a.Execute(context.Background(), nil)
	if err != nil || res.Message != "done" {
		t.Fatalf("Execute = %+v, %v", res, err)
	}

	var order []int
	r.OnSuccess("follow", func(context.Context, string, Options, Result) { order = append(order, 1) })
	r.OnSuccess("follow", func(context.Context, string, Options, Result) { order = append(order, 2) })
	for _, h := range r.Hooks("follow") {
		h(context.Background(), "follow", nil, Result{})
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("hook order = %v", order)
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	o := Options{"target": "alice", "n": float64(3), "s": "7"}
	if o.String("target") != "alice" || o.String("missing") != "" {
		t.Fatalf("String lookups wrong")
	}
	if n, ok := o.Int("n"); !ok || n != 3 {
		t.Fatalf("Int(n) = %d, %v", n, ok)
	}
	if n, ok := o.Int("s"); !ok || n != 7 {
		t.Fatalf("Int(s) = %d, %v", n, ok)
	}
	c := o.Clone()
	c["target"] = "bob"
	if o.String("target") != "alice" {
		t.Fatalf("Clone shares storage")
	}
}

func TestLogActionRatioProtection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		opts      Options
		protected bool
	}{
		{"no ratio", Options{OptRatioMin: 1.0}, false},
		{"no bounds", Options{OptRatio: 1.5}, false},
		{"inside", Options{OptRatio: 1.5, OptRatioMin: 1, OptRatioMax: "2"}, true},
		{"min only", Options{OptRatio: "40", OptRatioMin: 1}, true},
		{"above max", Options{OptRatio: 3.0, OptRatioMax: 2.0}, false},
		{"malformed bound", Options{OptRatio: 3.0, OptRatioMax: "lots"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := LogAction{Log: logx.Nop()}.Execute(context.Background(), tc.opts)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := res.Message == "protected"; got != tc.protected {
				t.Fatalf("protected = %v, want %v (%+v)", got, tc.protected, res)
			}
		})
	}
}
