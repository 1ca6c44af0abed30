package engine

import (
	"log/slog"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// warnRates bounds warnings per category, e.g. deadline misses of one
// reaction: at most 5 per second and 30 per minute.
var warnRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

// warnLimiter logs warnings that can repeat every tag without flooding the
// log.
type warnLimiter struct {
	log     *slog.Logger
	limiter *catrate.Limiter
}

func newWarnLimiter(log *slog.Logger) *warnLimiter {
	return &warnLimiter{log: log, limiter: catrate.NewLimiter(warnRates)}
}

// Warn logs msg at warn level unless category is rate limited. When the
// warning used up the category's budget, the time until which further
// warnings are suppressed is attached.
func (w *warnLimiter) Warn(category, msg string, args ...any) {
	next, ok := w.limiter.Allow(category)
	if !ok {
		return
	}
	if !next.IsZero() {
		args = append(args, "suppressed_until", next.Format(time.RFC3339Nano))
	}
	w.log.Warn(msg, args...)
}
