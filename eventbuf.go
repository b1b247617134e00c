package ioselector

const (
	eventBufInitial = 64
	eventBufMin     = 8
	eventBufMax     = 8192
	// eventBufShrinkAfter is the number of consecutive sparse polls before
	// the buffer is halved.
	eventBufShrinkAfter = 4
)

// eventBuffer is the poller's adaptively sized Poll buffer. It doubles when a
// poll fills it, and halves after a run of polls using under a third of it.
type eventBuffer struct {
	events []Event
	sparse int
}

func newEventBuffer(size int) *eventBuffer {
	size = min(max(size, eventBufMin), eventBufMax)
	return &eventBuffer{events: make([]Event, size)}
}

// observe resizes the buffer after a poll that returned n events. The
// contents are not preserved.
func (b *eventBuffer) observe(n int) {
	size := len(b.events)
	switch {
	case n >= size:
		b.sparse = 0
		if size < eventBufMax {
			b.events = make([]Event, min(size*2, eventBufMax))
		}
	case n*3 < size:
		b.sparse++
		if b.sparse >= eventBufShrinkAfter && size > eventBufMin {
			b.sparse = 0
			b.events = make([]Event, max(size/2, eventBufMin))
		}
	default:
		b.sparse = 0
	}
}
