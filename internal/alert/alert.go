// Package alert reports operational failures to chat with deduplication
// and rate limiting.
package alert

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"home-tasks/internal/notify"
)

const maxEntries = 1000

type Config struct {
	DedupWindow time.Duration
	RatePerSec  float64
}

type entry struct {
	count    int
	lastSent time.Time
}

// Notifier sends one alert per distinct (context, message) pair per dedup
// window. Repeats inside the window are counted and reported with the next
// alert for the same key.
type Notifier struct {
	sink    notify.Sink
	admins  []int64
	log     zerolog.Logger
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Notifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func New(sink notify.Sink, admins []int64, cfg Config, log zerolog.Logger, opts ...Option) *Notifier {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	n := &Notifier{
		sink:    sink,
		admins:  append([]int64(nil), admins...),
		log:     log.With().Str("component", "alert").Logger(),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		now:     time.Now,
		entries: map[string]*entry{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify logs err and, unless deduplicated or rate limited, sends it to
// chatID (when non-zero) or to every admin chat.
func (n *Notifier) Notify(ctx context.Context, err error, where string, chatID int64) {
	if err == nil {
		return
	}
	n.log.Error().Err(err).Str("where", where).Int64("chat_id", chatID).Msg("operation failed")

	repeats, v := n.admit(where + ":" + err.Error())
	switch v {
	case deduplicated:
		return
	case rateLimited:
		n.log.Warn().Str("where", where).Msg("alert dropped by rate limit")
		return
	}

	text := fmt.Sprintf("⚠️ <b>Error</b> in <code>%s</code>\n%s", html.EscapeString(where), html.EscapeString(err.Error()))
	if repeats > 1 {
		text += fmt.Sprintf(" (×%d)", repeats)
	}

	targets := n.admins
	if chatID != 0 {
		targets = []int64{chatID}
	}
	for _, id := range targets {
		if _, sendErr := n.sink.Send(ctx, id, notify.Message{Text: text}); sendErr != nil {
			n.log.Warn().Err(sendErr).Int64("chat_id", id).Msg("send alert")
		}
	}
}

type verdict int

const (
	send verdict = iota
	deduplicated
	rateLimited
)

// admit decides whether the alert for key goes out now and how many
// occurrences it represents. An occurrence dropped by the rate limiter is
// counted and does not start a dedup window.
func (n *Notifier) admit(key string) (int, verdict) {
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if ok && !e.lastSent.IsZero() && now.Sub(e.lastSent) < n.cfg.DedupWindow {
		e.count++
		return 0, deduplicated
	}
	if !ok {
		if len(n.entries) >= maxEntries {
			n.evictLocked(now)
		}
		e = &entry{}
		n.entries[key] = e
	}
	if !n.limiter.Allow() {
		e.count++
		return 0, rateLimited
	}
	repeats := 1 + e.count
	e.count = 0
	e.lastSent = now
	return repeats, send
}

// evictLocked drops entries whose dedup window has passed.
func (n *Notifier) evictLocked(now time.Time) {
	for k, e := range n.entries {
		if now.Sub(e.lastSent) >= n.cfg.DedupWindow {
			delete(n.entries, k)
		}
	}
}
