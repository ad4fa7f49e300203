package ops

import "sync"

// defaultHistory is how many events the console retains for replay.
const defaultHistory = 64

// eventLog is a fixed-capacity ring of recent events. Writes displace
// the oldest entry once the ring is full.
type eventLog struct {
	mu    sync.Mutex
	items []Event
	head  int
	size  int
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventLog{items: make([]Event, capacity)}
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[l.head] = e
	l.head = (l.head + 1) % len(l.items)
	if l.size < len(l.items) {
		l.size++
	}
}

// recent returns the retained events, oldest first.
func (l *eventLog) recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0, l.size)
	start := l.head - l.size
	if start < 0 {
		start += len(l.items)
	}
	for i := 0; i < l.size; i++ {
		out = append(out, l.items[(start+i)%len(l.items)])
	}
	return out
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
