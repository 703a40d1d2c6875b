// ABOUTME: In-memory fan-out event broadcaster for encryption state changes
// ABOUTME: Publishes timeline, roster and notification events to subscribers of an account

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventKind says which surface an Event is meant for.
type EventKind string

const (
	EventTimeline            EventKind = "timeline"
	EventContactChanged      EventKind = "contact_changed"
	EventNotificationAdded   EventKind = "notification_added"
	EventNotificationRemoved EventKind = "notification_removed"
)

// Event is one user-facing change published by the broadcaster.
type Event struct {
	ID           string
	Kind         EventKind
	Key          Key
	Action       Action           // EventTimeline only
	Text         string           // EventTimeline only, optional detail
	Notification NotificationKind // notification events only
	Question     string           // EventNotificationAdded for verification requests
	Timestamp    time.Time
}

// EventBroadcaster provides in-memory pub/sub for encryption events.
// Subscribers register for an account and receive every event for
// conversations under that account. It satisfies the timeline, roster and
// notifier collaborators of the session manager.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // account -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given account.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, account string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[account]; !ok {
		b.subscribers[account] = make(map[string]chan *Event)
	}
	b.subscribers[account][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "account", account, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(account, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the event's account.
// If excludeSubID is non-empty, that subscriber is skipped.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(event *Event, excludeSubID string) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	account := event.Key.Account

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[account] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"account", account,
				"event_id", event.ID)
		}
	}
}

// Append publishes a timeline action for a conversation.
func (b *EventBroadcaster) Append(_ context.Context, key Key, action Action, text string) {
	b.Publish(&Event{Kind: EventTimeline, Key: key, Action: action, Text: text}, "")
}

// ContactChanged publishes a roster refresh signal for a conversation.
func (b *EventBroadcaster) ContactChanged(_ context.Context, key Key) {
	b.Publish(&Event{Kind: EventContactChanged, Key: key}, "")
}

// AddNotification publishes a verification indicator.
func (b *EventBroadcaster) AddNotification(_ context.Context, n Notification) {
	b.Publish(&Event{
		Kind:         EventNotificationAdded,
		Key:          n.Key,
		Notification: n.Kind,
		Question:     n.Question,
	}, "")
}

// RemoveNotification publishes the removal of a verification indicator.
func (b *EventBroadcaster) RemoveNotification(_ context.Context, kind NotificationKind, key Key) {
	b.Publish(&Event{Kind: EventNotificationRemoved, Key: key, Notification: kind}, "")
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(account, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[account]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, account)
	}

	b.logger.Debug("subscriber removed", "account", account, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for account, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, account)
	}

	b.logger.Debug("broadcaster closed")
}
