package router

import "sync"

// Event tells subscribers that some stored state changed.
type Event string

const (
	TagsUpdated          Event = "TAGS_UPDATED"
	SearchesUpdated      Event = "SEARCHES_UPDATED"
	SettingsUpdated      Event = "SETTINGS_UPDATED"
	ConversationsUpdated Event = "CONVERSATIONS_UPDATED"
)

// Notifier is an in-process fan-out of Events. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber that has room.
func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
