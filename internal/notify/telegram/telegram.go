// Package telegram delivers operator alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "pacer/pkg/logx"
)

const (
	defaultRetryMax    = 2
	defaultRetryBase   = time.Second
	maxRetryDelay      = 30 * time.Second
	defaultDedupWindow = time.Minute
	maxDedupEntries    = 512
)

// Config addresses the alert chat. ThreadID selects a forum topic; 0 means
// the main thread. Zero retry and dedup values take defaults; a negative
// DedupWindow disables suppression.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int

	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
}

// Sender implements logx.Sender on top of a send-only bot. It never polls
// for updates.
type Sender struct {
	cfg  Config
	bot  *tele.Bot
	chat *tele.Chat
	opts *tele.SendOptions
	log  logx.Logger

	dmu   sync.Mutex
	dedup map[uint64]time.Time // text hash -> suppress until

	sent    atomic.Uint64
	failed  atomic.Uint64
	deduped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{
		cfg:   cfg,
		bot:   b,
		chat:  &tele.Chat{ID: cfg.ChatID},
		opts:  &tele.SendOptions{DisableWebPagePreview: true, ThreadID: cfg.ThreadID},
		log:   log,
		dedup: map[uint64]time.Time{},
	}, nil
}

// SendAlert posts text as a plain message, retrying transient failures.
// Identical text inside the dedup window is dropped. It is called from the
// logx alert worker and must not log at alert level itself.
func (s *Sender) SendAlert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.allow(text, time.Now()) {
		s.deduped.Add(1)
		return nil
	}

	var err error
	for attempt := 1; ; attempt++ {
		if _, err = s.bot.Send(s.chat, text, s.opts); err == nil {
			s.sent.Add(1)
			return nil
		}
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt))
		if attempt > s.cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg.RetryBase, attempt, err))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.failed.Add(1)
			return ctx.Err()
		}
	}
	s.failed.Add(1)
	return err
}

// allow records text and reports whether it is outside the dedup window.
func (s *Sender) allow(text string, now time.Time) bool {
	if s.cfg.DedupWindow < 0 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	if len(s.dedup) >= maxDedupEntries {
		// Evict the entry expiring first.
		var minKey uint64
		var minT time.Time
		for k, t := range s.dedup {
			if minT.IsZero() || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	return true
}

// retryDelay doubles per attempt, or follows Telegram's retry_after on a
// flood error.
func retryDelay(base time.Duration, attempt int, err error) time.Duration {
	if after := floodRetryAfter(err); after > 0 {
		return min(after, maxRetryDelay)
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// floodRetryAfter extracts retry_after from a 429 reply. telebot returns
// FloodError by value.
func floodRetryAfter(err error) time.Duration {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second
	}
	var pflood *tele.FloodError
	if errors.As(err, &pflood) && pflood != nil {
		return time.Duration(pflood.RetryAfter) * time.Second
	}
	return 0
}

// Counts returns delivered, failed and deduplicated alert totals.
func (s *Sender) Counts() (sent, failed, deduped uint64) {
	return s.sent.Load(), s.failed.Load(), s.deduped.Load()
}
