package ioselector

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Log categories subject to rate limiting.
const (
	logCategoryPoll     = "poll"
	logCategoryPanic    = "panic"
	logCategoryRegister = "register"
)

var defaultLogRateLimits = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// selectorLogger pairs the optional logger with the limiter applied to
// errors that may repeat on every poller iteration.
type selectorLogger struct {
	*logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newSelectorLogger(l *logiface.Logger[logiface.Event], rates map[time.Duration]int) selectorLogger {
	x := selectorLogger{Logger: l}
	if l != nil && len(rates) != 0 {
		x.limiter = catrate.NewLimiter(rates)
	}
	return x
}

// limited returns a builder at the given level, or nil if logging is
// disabled or the category is over its rate limit.
func (x selectorLogger) limited(level logiface.Level, category string) *logiface.Builder[logiface.Event] {
	b := x.Logger.Build(level)
	if !b.Enabled() {
		return nil
	}
	if x.limiter != nil {
		if _, ok := x.limiter.Allow(category); !ok {
			b.Release()
			return nil
		}
	}
	return b
}
