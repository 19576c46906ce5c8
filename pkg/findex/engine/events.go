package engine

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies an engine event.
type EventKind int

// Engine event kinds.
const (
	EventLoadStarted EventKind = iota
	EventLoadFinished
	EventSaveStarted
	EventSaveFinished
	EventScanStarted
	EventScanFinished
	EventSearchStarted
	EventSearchFinished
	EventSortStarted
	EventSortFinished
	EventSelectionChanged
	EventDatabaseChanged
	EventItemInfoReady
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventLoadStarted:
		return "load-started"
	case EventLoadFinished:
		return "load-finished"
	case EventSaveStarted:
		return "save-started"
	case EventSaveFinished:
		return "save-finished"
	case EventScanStarted:
		return "scan-started"
	case EventScanFinished:
		return "scan-finished"
	case EventSearchStarted:
		return "search-started"
	case EventSearchFinished:
		return "search-finished"
	case EventSortStarted:
		return "sort-started"
	case EventSortFinished:
		return "sort-finished"
	case EventSelectionChanged:
		return "selection-changed"
	case EventDatabaseChanged:
		return "database-changed"
	case EventItemInfoReady:
		return "item-info-ready"
	default:
		return "unknown"
	}
}

// Event is one notification published to subscribers. The payload fields are
// populated per kind: Database for load/scan/database-changed, Search for
// search/sort/selection, Item for item-info-ready.
type Event struct {
	Kind     EventKind
	ViewID   uint32
	Database *DatabaseInfo
	Search   *SearchInfo
	Item     *EntryInfo
}

// Subscriber receives engine events on its channel, in publish order.
type Subscriber struct {
	ID     string
	Events chan Event
}

// broadcaster fans engine events out to subscribers. Events pass through a
// single dispatch goroutine, so delivery order matches publish order for
// every subscriber.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queue       chan Event
	done        chan struct{}
	closed      bool
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{
		subscribers: make(map[string]*Subscriber),
		queue:       make(chan Event, 512),
		done:        make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *broadcaster) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		for _, sub := range b.subscribers {
			select {
			case sub.Events <- ev:
			default:
				// Slow subscriber, event dropped.
			}
		}
		b.mu.RUnlock()
	}
}

// subscribe registers a new subscriber.
func (b *broadcaster) subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan Event, 100),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// unsubscribe removes a subscriber and closes its channel.
func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// publish posts an event for asynchronous, ordered delivery.
func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	b.queue <- ev
}

// close drains the queue and closes every subscriber channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}
