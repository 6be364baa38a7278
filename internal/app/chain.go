package app

import (
	"context"
	"sort"
	"strings"
	"sync"

	"pacer/internal/action"
	"pacer/internal/dispatch"
	logx "pacer/pkg/logx"
)

// jobStarter is the slice of the scheduler used to seed chained jobs.
type jobStarter interface {
	StartTask(name string, kind dispatch.Kind, opts action.Options) bool
}

// chainer turns the items of a successful result into one-time jobs.
// The chain table can be replaced at runtime; hooks read it on every call.
type chainer struct {
	start jobStarter
	reg   *action.Registry
	log   logx.Logger

	mu     sync.RWMutex
	chains map[string][]string
	hooked map[string]bool
}

func newChainer(start jobStarter, reg *action.Registry, log logx.Logger) *chainer {
	return &chainer{start: start, reg: reg, log: log, chains: map[string][]string{}, hooked: map[string]bool{}}
}

// Set replaces the chain table. Hooks are never removed from the registry;
// a source dropped from the table simply has no targets left.
func (c *chainer) Set(chains map[string][]string) {
	next := make(map[string][]string, len(chains))
	for src, targets := range chains {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		for _, t := range targets {
			if t = strings.TrimSpace(t); t != "" {
				next[src] = append(next[src], t)
			}
		}
	}

	c.mu.Lock()
	c.chains = next
	var fresh []string
	for src := range next {
		if !c.hooked[src] {
			c.hooked[src] = true
			fresh = append(fresh, src)
		}
	}
	c.mu.Unlock()

	sort.Strings(fresh)
	for _, src := range fresh {
		c.reg.OnSuccess(src, c.hook)
	}
	if len(fresh) > 0 {
		c.log.Debug("chain hooks registered", logx.Any("sources", fresh))
	}
}

func (c *chainer) targets(src string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.chains[src]...)
}

func (c *chainer) hook(_ context.Context, name string, _ action.Options, res action.Result) {
	targets := c.targets(name)
	if len(targets) == 0 || len(res.Items) == 0 {
		return
	}
	started := 0
	for _, item := range res.Items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		for _, t := range targets {
			if c.start.StartTask(t, dispatch.OneTime, action.Options{action.OptTarget: item, "chained_from": name}) {
				started++
			}
		}
	}
	c.log.Info("chained jobs started", logx.String("from", name), logx.Int("items", len(res.Items)), logx.Int("jobs", started))
}
