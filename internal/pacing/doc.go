// Package pacing decides whether the next action may run.
//
// A Controller holds the counters and pause deadlines of one logical session
// and evaluates them in a fixed precedence order, so exactly one State is
// authoritative at any instant. Expired pauses clear themselves on the next
// evaluation.
package pacing
