package server

import (
	"context"
	"sync"
	"time"
)

const (
	// FeedEventRecordSaved announces a persisted create or update.
	FeedEventRecordSaved = "record-saved"
	// FeedEventRecordDeleted announces a removal.
	FeedEventRecordDeleted = "record-deleted"
	// FeedEventMembersChanged announces an applied membership diff.
	FeedEventMembersChanged = "members-changed"
)

// FeedEvent tells other open console tabs which records changed so they can
// refetch. Content is shared between admins, so events fan out to every
// subscriber.
type FeedEvent struct {
	EventType string
	Kind      string
	RecordIDs []string
	Timestamp time.Time
}

// ChangeFeed is an in-process fanout of content change events.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan FeedEvent
	done   chan struct{}
}

// NewChangeFeed constructs an empty feed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener. The returned cleanup is idempotent and is
// also invoked when the context ends; either path releases the watcher
// goroutine, so subscribers with a non-cancellable context do not leak.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan FeedEvent, func()) {
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan FeedEvent, f.bufferSize),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.subscribers[subscriber.id] = subscriber
	f.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, subscriber.id)
			f.mu.Unlock()
			close(subscriber.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-subscriber.done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish fans the event out to every subscriber. Slow subscribers drop
// events rather than blocking the publisher.
func (f *ChangeFeed) Publish(event FeedEvent) {
	if event.EventType == "" {
		return
	}
	f.mu.RLock()
	copies := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (f *ChangeFeed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}
