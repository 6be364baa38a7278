package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// dayFormat keys history by local calendar day.
const dayFormat = "2006-01-02"

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActionRecord is one attempted firing. Keep it compact and schema-stable.
type ActionRecord struct {
	At       time.Time `json:"at"`
	JobID    string    `json:"job_id"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	Metadata string    `json:"meta,omitempty"`
}

func day(t time.Time) string { return t.Local().Format(dayFormat) }
