package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"scheduleChat/pkg/api"
)

type EventKind int

const (
	// Subscribed follows every successful (re)join of the channel.
	Subscribed EventKind = iota + 1
	// Insert carries one committed row.
	Insert
	// Sync carries the full presence state of the channel.
	Sync
	// Disconnected is emitted when the connection under the channel is lost.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Subscribed:
		return "subscribed"
	case Insert:
		return "insert"
	case Sync:
		return "sync"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is what a subscription delivers. Table and Record are set for
// Insert, State for Sync and Err for Disconnected.
type Event struct {
	Kind   EventKind
	Table  string
	Record json.RawMessage
	State  map[string][]json.RawMessage
	Err    error
}

// Subscription delivers the events of one channel in arrival order. Events
// is closed once Close returns.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// PresenceSubscription is a subscription joined under a presence key.
type PresenceSubscription interface {
	Subscription
	Track(ctx context.Context, record api.PresenceRecord) error
	Untrack(ctx context.Context) error
}

// Transport is the channel transport the core consumes. *Socket implements it.
type Transport interface {
	SubscribeTable(ctx context.Context, table string, filter string) (Subscription, error)
	SubscribePresence(ctx context.Context, channel string, key string) (PresenceSubscription, error)
}

// mailbox is an unbounded FIFO in front of a subscription's event channel so
// that a slow consumer never stalls the connection reader.
type mailbox struct {
	mu       sync.Mutex
	queue    []Event
	wake     chan struct{}
	out      chan Event
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake:     make(chan struct{}, 1),
		out:      make(chan Event),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(e Event) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.finished)
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		e := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- e:
		case <-m.done:
			return
		}
	}
}

// close drops queued events and returns once out is closed.
func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
	<-m.finished
}
