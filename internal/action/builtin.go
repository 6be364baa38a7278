package action

import (
	"context"
	"sort"

	logx "pacer/pkg/logx"
)

// LogAction logs its options and succeeds. It stands in for real
// automation when wiring or rehearsing a schedule. A target whose ratio
// option falls inside ratio_min..ratio_max is left alone, as a real unfollow
// would.
type LogAction struct {
	Log logx.Logger
}

func (a LogAction) Execute(ctx context.Context, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r, ok := opts.Float(OptRatio); ok {
		if b := RatioFromOptions(opts); b.Protects(r) {
			a.Log.Info("target protected by ratio", logx.String("target", opts.String(OptTarget)), logx.Float64("ratio", r))
			return Result{Message: "protected", Fields: map[string]any{"protected": true, "ratio": r}}, nil
		}
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]logx.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, logx.Any("opt."+k, opts[k]))
	}
	a.Log.Info("log action executed", fields...)
	return Result{Message: "ok", Fields: map[string]any{"options": len(opts)}}, nil
}
