// Package dispatch runs one job firing through the pacing gates and, when
// permitted, the action itself.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pacer/internal/action"
	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
)

const skipLogInterval = 30 * time.Second

type Dispatcher struct {
	pacer   Pacer
	actions *action.Registry
	log     logx.Logger
	bus     eventbus.Bus

	skipMu  sync.Mutex
	skipLog map[string]*rate.Sometimes
}

func New(p Pacer, actions *action.Registry, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		pacer:   p,
		actions: actions,
		log:     log,
		bus:     bus,
		skipLog: map[string]*rate.Sometimes{},
	}
}

// Handle runs the per-firing pipeline. The first applicable gate short-circuits.
func (d *Dispatcher) Handle(ctx context.Context, job Job) Outcome {
	switch {
	case d.pacer.ShouldSimulateOutage():
		dur := d.pacer.SimulateOutage()
		return d.skip(job, "network_outage", dur)
	case job.Kind == Recurring && d.pacer.ShouldTakeBreak():
		dur := d.pacer.TakeBreak()
		return d.skip(job, "break", dur)
	case d.pacer.ShouldTakeDistraction():
		dur := d.pacer.TakeDistraction()
		return d.skip(job, "distraction", dur)
	case !d.pacer.CanProceed():
		return d.skip(job, d.pacer.State().String(), 0)
	}

	a, err := d.actions.Lookup(job.Name)
	if err != nil {
		d.log.Error("no action registered for job", logx.String("job", job.Name), logx.String("id", job.ID))
		out := Outcome{Status: Rejected, Reason: "unknown_action", Err: err}
		d.publish(eventbus.ActionSkipped, job, out)
		return out
	}

	start := time.Now()
	res, err := d.execute(ctx, a, job)
	out := Outcome{Status: Attempted, Success: err == nil, Err: err, Result: res, Duration: time.Since(start)}
	empty := action.IsEmptyQueue(res, err)

	if err == nil && !empty && !job.IsStopped() {
		d.runHooks(ctx, job, res)
	}

	if err != nil {
		if reason, ok := action.BlockSignal(err, res.Message); ok {
			d.pacer.EnterCooldown(reason)
			out.Reason = "blocked"
			d.publish(eventbus.CooldownEntered, job, out)
		}
	}

	if empty {
		out.Status = Idle
		out.Success = false
		out.Reason = "empty_queue"
		out.Deregister = job.Kind == Recurring
		d.log.Info("action reported empty queue", logx.String("job", job.Name), logx.Bool("deregister", out.Deregister))
		d.publish(eventbus.ActionIdle, job, out)
		return out
	}

	d.pacer.RecordOutcome(true)
	if err != nil {
		d.log.Warn("action failed", logx.String("job", job.Name), logx.String("id", job.ID), logx.Err(err), logx.Duration("dur", out.Duration))
	} else {
		d.log.Info("action done", logx.String("job", job.Name), logx.String("id", job.ID), logx.String("message", res.Message), logx.Int("items", len(res.Items)), logx.Duration("dur", out.Duration))
	}
	d.publish(eventbus.ActionAttempted, job, out)
	return out
}

// execute contains panics at the action boundary; a panic counts as a failed attempt.
func (d *Dispatcher) execute(ctx context.Context, a action.Action, job Job) (res action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
			d.log.Error("action panicked", logx.String("job", job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	opts := job.Options
	if opts == nil {
		opts = action.Options{}
	}
	return a.Execute(ctx, opts)
}

func (d *Dispatcher) runHooks(ctx context.Context, job Job, res action.Result) {
	for _, h := range d.actions.Hooks(job.Name) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("hook panicked", logx.String("job", job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			h(ctx, job.Name, job.Options, res)
		}()
	}
}

func (d *Dispatcher) skip(job Job, reason string, pause time.Duration) Outcome {
	out := Outcome{Status: Skipped, Reason: reason}
	fields := []logx.Field{logx.String("job", job.Name), logx.String("reason", reason)}
	if pause > 0 {
		// Entering a pause is worth an info line every time.
		d.log.Info("firing skipped", append(fields, logx.Duration("pause", pause))...)
	} else {
		d.sometimes(reason).Do(func() {
			d.log.Debug("firing skipped", fields...)
		})
	}
	d.publish(eventbus.ActionSkipped, job, out)
	return out
}

func (d *Dispatcher) sometimes(reason string) *rate.Sometimes {
	d.skipMu.Lock()
	defer d.skipMu.Unlock()
	s := d.skipLog[reason]
	if s == nil {
		s = &rate.Sometimes{Interval: skipLogInterval}
		d.skipLog[reason] = s
	}
	return s
}

func (d *Dispatcher) publish(typ string, job Job, out Outcome) {
	if d.bus == nil {
		return
	}
	ev := OutcomeEvent{
		JobID:    job.ID,
		Name:     job.Name,
		Kind:     job.Kind.String(),
		Target:   job.Options.String(action.OptTarget),
		Status:   out.Status.String(),
		Reason:   out.Reason,
		Success:  out.Success,
		Message:  out.Result.Message,
		Items:    len(out.Result.Items),
		Duration: out.Duration,
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
