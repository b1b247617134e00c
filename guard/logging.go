package guard

import (
	"github.com/joeycumines/logiface"
)

type guardLogger struct {
	l  *logiface.Logger[logiface.Event]
	fd int
}

func newGuardLogger(l *logiface.Logger[logiface.Event], fd int) *guardLogger {
	return &guardLogger{l: l, fd: fd}
}

func (x *guardLogger) underflow() {
	if b := x.l.Crit(); b.Enabled() {
		b.Int("fd", x.fd).Log("guard: unregister would underflow refcount")
	}
}

func (x *guardLogger) prepareFailed(err error) {
	if b := x.l.Debug(); b.Enabled() {
		b.Int("fd", x.fd).Err(err).Log("guard: failed to prepare descriptor for interrupt")
	}
}

func (x *guardLogger) signalFailed(t *Token, err error) {
	if b := x.l.Debug(); b.Enabled() {
		b.Int("fd", x.fd).Int("tid", t.tid).Err(err).Log("guard: failed to signal thread")
	}
}

func (x *guardLogger) exhausted(err *RetriesExhaustedError) {
	if b := x.l.Err(); b.Enabled() {
		b.Int("fd", x.fd).
			Int("retries", err.Retries).
			Int("blocked", len(err.Threads)).
			Interface("threads", err.Threads).
			Str("policy", err.Policy.String()).
			Log("guard: threads still blocked after interrupt retries")
	}
}

func (x *guardLogger) released(err error) {
	if err != nil {
		x.releaseFailed(err)
		return
	}
	if b := x.l.Debug(); b.Enabled() {
		b.Int("fd", x.fd).Log("guard: descriptor released")
	}
}

func (x *guardLogger) releaseFailed(err error) {
	if b := x.l.Err(); b.Enabled() {
		b.Int("fd", x.fd).Err(err).Log("guard: failed to release descriptor")
	}
}
