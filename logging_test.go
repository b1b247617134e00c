package ioselector

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
)

func TestSelectorLogger_nilLogger(t *testing.T) {
	l := newSelectorLogger(nil, defaultLogRateLimits)
	assert.Nil(t, l.limiter)
	assert.Nil(t, l.limited(logiface.LevelError, logCategoryPoll))
}

func TestSelectorLogger_rateLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``))).Logger()
	l := newSelectorLogger(logger, map[time.Duration]int{time.Hour: 2})

	for i := 0; i < 5; i++ {
		if b := l.limited(logiface.LevelError, logCategoryPoll); b != nil {
			b.Log("poll failed")
		}
		if b := l.limited(logiface.LevelError, logCategoryPanic); b != nil {
			b.Log("panicked")
		}
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "poll failed"))
	assert.Equal(t, 2, strings.Count(out, "panicked"))
}

func TestSelectorLogger_levelFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelError),
	).Logger()
	l := newSelectorLogger(logger, nil)
	assert.Nil(t, l.limited(logiface.LevelWarning, logCategoryRegister))
	b := l.limited(logiface.LevelError, logCategoryRegister)
	assert.NotNil(t, b)
	b.Release()
}
