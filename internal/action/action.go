// Package action defines the contract between the scheduler core and the
// operations it paces.
package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Options is the opaque per-job payload handed to an Action.
type Options map[string]any

// OptTarget names the entity a one-time job acts on. Chained jobs carry the
// result item that seeded them under this key.
const OptTarget = "target"

// String returns the option as a string, or "" when absent.
func (o Options) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Int returns the option as an int, accepting numeric strings and JSON numbers.
func (o Options) Int(key string) (int, bool) {
	switch x := o[key].(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Float returns the option as a float64, accepting ints and numeric strings.
func (o Options) Float(key string) (float64, bool) {
	switch x := o[key].(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy so callers can add keys without sharing maps.
func (o Options) Clone() Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Result is the payload of a successful (or failed) execution.
//
// Items carries list-shaped output, e.g. accounts discovered while working,
// which chain hooks may turn into follow-up jobs. EmptyQueue reports that the
// action had nothing to do.
type Result struct {
	Message    string
	Fields     map[string]any
	Items      []string
	EmptyQueue bool
}

// Action is one externally risky operation. Execute must honor ctx for
// blocking waits. A nil error means success.
type Action interface {
	Execute(ctx context.Context, opts Options) (Result, error)
}

// Func adapts a plain function to Action.
type Func func(ctx context.Context, opts Options) (Result, error)

func (f Func) Execute(ctx context.Context, opts Options) (Result, error) { return f(ctx, opts) }
