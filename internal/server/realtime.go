package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

const (
	// TopicLeaderboard carries vote events for the public leaderboard stream.
	TopicLeaderboard = "leaderboard"

	RealtimeEventVote      = "vote"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "onomancer-backend"
)

type RealtimeMessage struct {
	Topic     string    `json:"-"`
	EventType string    `json:"-"`
	Name      string    `json:"name"`
	Delta     int64     `json:"delta"`
	Applied   int64     `json:"applied"`
	Votes     int64     `json:"votes"`
	Timestamp time.Time `json:"timestamp"`
}

// RealtimeDispatcher fans messages out to per-topic subscribers. Slow subscribers miss
// messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber on topic until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, topic string) (<-chan RealtimeMessage, func()) {
	if topic == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(topic, subscriber)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			d.unregisterSubscriber(topic, subscriber.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Topic == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// VoteApplied forwards committed votes to leaderboard subscribers.
func (d *RealtimeDispatcher) VoteApplied(event names.VoteEvent) {
	d.Publish(RealtimeMessage{
		Topic:     TopicLeaderboard,
		EventType: RealtimeEventVote,
		Name:      event.Name,
		Delta:     event.Delta,
		Applied:   event.Applied,
		Votes:     event.Votes,
		Timestamp: event.At,
	})
}

func (d *RealtimeDispatcher) subscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(topic string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
