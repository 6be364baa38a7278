// Package scheduler owns job timers: recurring jobs keyed by name and one-time
// jobs keyed by a generated id.
//
// The scheduler only decides when a job fires. Every firing is submitted to the
// single-flight executor (internal/task/engine), which runs it through the
// dispatcher. A recurring job is rescheduled with a freshly sampled interval
// only after its firing completed, so firings of one name never overlap.
package scheduler
