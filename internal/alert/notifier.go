package alert

import (
	"context"
	"sync"

	"ids-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a block event to one channel.
type Notifier interface {
	SendEvent(event model.BlockEvent) error
}

// Dispatcher queues block events; Run delivers them to every registered
// notifier from a single goroutine.
type Dispatcher struct {
	notifiers []Notifier
	logger    *logrus.Logger
	mu        sync.RWMutex
	events    chan model.BlockEvent
}

func NewDispatcher(buffer int, logger *logrus.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 100
	}
	return &Dispatcher{
		logger: logger,
		events: make(chan model.BlockEvent, buffer),
	}
}

func (d *Dispatcher) RegisterNotifier(notifier Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, notifier)
}

// SendEvent enqueues the event without blocking.
func (d *Dispatcher) SendEvent(event model.BlockEvent) error {
	select {
	case d.events <- event:
	default:
		d.logger.Errorf("[Alert] event channel is full, dropping %s event for %s", event.Type, event.IP)
	}
	return nil
}

// Run delivers queued events until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event model.BlockEvent) {
	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.SendEvent(event); err != nil {
			d.logger.Errorf("[Alert] failed to send %s event for %s: %v", event.Type, event.IP, err)
		}
	}
}

// LogNotifier writes block events to the local log.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (ln *LogNotifier) SendEvent(event model.BlockEvent) error {
	entry := ln.logger.WithFields(logrus.Fields{
		"event":  event.Type,
		"ip":     event.IP,
		"source": event.Source,
	})
	if event.CycleID != "" {
		entry = entry.WithField("cycle_id", event.CycleID)
	}
	if event.Type == model.EventFailed {
		entry.Warnf("[Alert] %s", event.Message)
		return nil
	}
	entry.Infof("[Alert] %s %s", event.IP, event.Type)
	return nil
}
