package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pacer/internal/app"
	"pacer/internal/dispatch"
)

// taskFlags collects repeatable -task name[:recurring|once] values.
type taskFlags []taskFlag

type taskFlag struct {
	name string
	kind dispatch.Kind
}

func (f *taskFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, t := range *f {
		parts = append(parts, t.name+":"+t.kind.String())
	}
	return strings.Join(parts, ",")
}

func (f *taskFlags) Set(v string) error {
	name, kind, _ := strings.Cut(strings.TrimSpace(v), ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("task name is empty")
	}
	t := taskFlag{name: name, kind: dispatch.Recurring}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "recurring":
	case "once", "one_time":
		t.kind = dispatch.OneTime
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
	*f = append(*f, t)
	return nil
}

func main() {
	var cfgPath string
	var tasks taskFlags
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.Var(&tasks, "task", "start a job: name[:recurring|once] (repeatable)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	known := map[string]bool{}
	for _, n := range a.Actions().Names() {
		known[n] = true
	}
	for _, t := range tasks {
		if !known[t.name] {
			fmt.Println("fatal: no action registered for task", t.name)
			os.Exit(1)
		}
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	for _, t := range tasks {
		if !a.Scheduler().StartTask(t.name, t.kind, nil) {
			fmt.Println("task not started:", t.name)
		}
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
}
