package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "pacer/pkg/logx"
)

// Store is the persistence API used by the history recorder.
type Store interface {
	// RecordAction appends one attempted firing.
	RecordAction(ctx context.Context, r ActionRecord) error
	// Stats counts successful actions per name for the calendar days from..to,
	// both inclusive.
	Stats(ctx context.Context, from, to time.Time) (map[string]int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
