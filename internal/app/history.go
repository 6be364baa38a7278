package app

import (
	"context"
	"sort"
	"time"

	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/storage"
	logx "pacer/pkg/logx"
)

const recordTimeout = 2 * time.Second

// historyRecorder persists attempted firings and logs per-day totals when a
// session halts.
type historyRecorder struct {
	store storage.Store
	log   logx.Logger
}

func (h *historyRecorder) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.ActionAttempted:
				h.record(ctx, e)
			case eventbus.SessionHalted:
				h.logStats(ctx, e.Time)
			}
		}
	}
}

func (h *historyRecorder) record(ctx context.Context, e eventbus.Event) {
	ev, ok := e.Data.(dispatch.OutcomeEvent)
	if !ok {
		return
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	rctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	err := h.store.RecordAction(rctx, storage.ActionRecord{
		At:       at,
		JobID:    ev.JobID,
		Action:   ev.Name,
		Target:   ev.Target,
		Success:  ev.Success,
		Error:    ev.Error,
		TookMS:   ev.Duration.Milliseconds(),
		Metadata: ev.Message,
	})
	if err != nil {
		h.log.Warn("record action failed", logx.String("job", ev.Name), logx.String("id", ev.JobID), logx.Err(err))
	}
}

func (h *historyRecorder) logStats(ctx context.Context, day time.Time) {
	if day.IsZero() {
		day = time.Now()
	}
	rctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	stats, err := h.store.Stats(rctx, day, day)
	if err != nil {
		h.log.Warn("action stats failed", logx.Err(err))
		return
	}
	names := make([]string, 0, len(stats))
	total := 0
	for n, c := range stats {
		names = append(names, n)
		total += c
	}
	sort.Strings(names)
	fields := []logx.Field{logx.String("day", day.Local().Format("2006-01-02")), logx.Int("total", total)}
	for _, n := range names {
		fields = append(fields, logx.Int("action."+n, stats[n]))
	}
	h.log.Info("action stats", fields...)
}
