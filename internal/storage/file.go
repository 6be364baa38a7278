package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pacer/pkg/logx"
)

// fileStore appends records to <prefix>.actions.jsonl and keeps per-day
// success counters in memory, rebuilt from the file on open.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	f      *os.File
	counts map[string]map[string]int // day -> action -> successes
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	histPath := filepath.Join(dir, base) + ".actions.jsonl"

	counts := map[string]map[string]int{}
	skipped, err := replayActions(histPath, counts)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped malformed history lines", logx.String("path", histPath), logx.Int("lines", skipped))
	}

	f, err := os.OpenFile(histPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", histPath), logx.Int("days", len(counts)))
	return &fileStore{log: log, f: f, counts: counts}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) RecordAction(ctx context.Context, r ActionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	count(s.counts, r)
	return nil
}

func (s *fileStore) Stats(ctx context.Context, from, to time.Time) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lo, hi := day(from), day(to)
	out := map[string]int{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for d, byAction := range s.counts {
		// ISO dates compare correctly as strings.
		if d < lo || d > hi {
			continue
		}
		for a, n := range byAction {
			out[a] += n
		}
	}
	return out, nil
}

func count(counts map[string]map[string]int, r ActionRecord) {
	if !r.Success {
		return
	}
	d := day(r.At)
	m := counts[d]
	if m == nil {
		m = map[string]int{}
		counts[d] = m
	}
	m[r.Action]++
}

// replayActions rebuilds counters and returns the number of unreadable lines.
func replayActions(path string, counts map[string]map[string]int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r ActionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Action == "" {
			skipped++
			continue
		}
		count(counts, r)
	}
	return skipped, sc.Err()
}
