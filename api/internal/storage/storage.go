package storage

import (
	"sync"
	"time"

	"ids-guard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Storage keeps the recent block events and the latest monitor status for the
// API, and forwards both to stream subscribers.
type Storage struct {
	mu        sync.RWMutex
	events    []model.BlockEvent
	status    model.MonitorStatus
	maxEvents int
	logger    *logrus.Logger
	subs      map[*Subscriber]bool
	subsMu    sync.RWMutex
}

// Message is one item pushed to a stream subscriber.
type Message struct {
	Type   string               `json:"type"`
	Status *model.MonitorStatus `json:"status,omitempty"`
	Event  *model.BlockEvent    `json:"event,omitempty"`
}

const (
	MessageStatus = "status"
	MessageEvent  = "event"
)

type Subscriber struct {
	ID      string
	Channel chan Message
	Since   time.Time
}

func NewStorage(logger *logrus.Logger) *Storage {
	return &Storage{
		events:    make([]model.BlockEvent, 0),
		maxEvents: 1000,
		logger:    logger,
		subs:      make(map[*Subscriber]bool),
	}
}

// SendEvent stores a block event; it satisfies the alert notifier contract.
func (s *Storage) SendEvent(event model.BlockEvent) error {
	s.mu.Lock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.mu.Unlock()

	s.notify(Message{Type: MessageEvent, Event: &event})
	return nil
}

// PublishStatus stores the latest monitor status.
func (s *Storage) PublishStatus(status model.MonitorStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.notify(Message{Type: MessageStatus, Status: &status})
}

func (s *Storage) Status() model.MonitorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetEvents returns up to limit events, newest first, optionally of one type.
func (s *Storage) GetEvents(limit int, eventType string) []model.BlockEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.BlockEvent, 0)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if eventType != "" && string(s.events[i].Type) != eventType {
			continue
		}
		result = append(result, s.events[i])
	}
	return result
}

func (s *Storage) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscriber{
		ID:      uuid.NewString(),
		Channel: make(chan Message, buffer),
		Since:   time.Now(),
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub] = true
	return sub
}

func (s *Storage) Unsubscribe(sub *Subscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if !s.subs[sub] {
		return
	}
	delete(s.subs, sub)
	close(sub.Channel)
}

func (s *Storage) SubscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

func (s *Storage) notify(msg Message) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for sub := range s.subs {
		select {
		case sub.Channel <- msg:
		default:
			s.logger.Debugf("[Stream] subscriber %s is slow, dropping %s message", sub.ID, msg.Type)
		}
	}
}
