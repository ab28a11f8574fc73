// Package runtime hosts the chat actors: the coordinator directory, channel
// processes and per-connection sessions. Each actor is a goroutine owning
// its state exclusively; all interaction crosses an inbox channel, and
// failure propagation is declared through Links rather than shared memory.
package runtime

import "sync"

// Link propagates the termination of one process to the processes that
// declared an interest in it. The owner calls Break exactly once on exit
// (normal or not); everyone holding the link observes Down.
//
// This is the cancellation primitive of the whole service: sessions hold the
// coordinator epoch's link and treat Down as a fatal disconnect, and channel
// handles expose a link so senders can tell a terminated channel from a slow
// one.
type Link struct {
	once sync.Once
	down chan struct{}
}

func NewLink() *Link {
	return &Link{down: make(chan struct{})}
}

// Break marks the owner as terminated. Safe to call more than once.
func (l *Link) Break() {
	l.once.Do(func() { close(l.down) })
}

// Down is closed once the owner has terminated.
func (l *Link) Down() <-chan struct{} {
	return l.down
}

// IsDown reports termination without blocking.
func (l *Link) IsDown() bool {
	select {
	case <-l.down:
		return true
	default:
		return false
	}
}
