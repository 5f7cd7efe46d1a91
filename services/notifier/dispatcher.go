package notifysvc

import (
	"fmt"
	"sync"

	"github.com/mitihani/backend/core"
	metricsvc "github.com/mitihani/backend/services/metrics"
)

const defaultQueueSize = 1024

// Transport delivers one event to its destination (console, email, ...).
type Transport interface {
	Deliver(e core.Event) error
}

// Dispatcher is an async, at-least-once event bus decoupling proctor
// notifications from the synchronous admission path. Notify never blocks:
// when the queue is full the event is dropped and counted, which costs
// alerting timeliness, never correctness.
type Dispatcher struct {
	transport Transport
	logger    core.Logger

	events    chan core.Event
	closeOnce sync.Once
	done      chan struct{}
}

var _ core.Notifier = (*Dispatcher)(nil)

func NewDispatcher(transport Transport, logger core.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		transport: transport,
		logger:    logger,
		events:    make(chan core.Event, queueSize),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(events ...core.Event) {
	for _, e := range events {
		select {
		case d.events <- e:
			metricsvc.NotificationQueued(e.Type)
		default:
			metricsvc.NotificationDropped(e.Type)
			d.logger.Warn(fmt.Sprintf("notification queue full, dropping %q event", e.Type))
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.events {
		if err := d.transport.Deliver(e); err != nil {
			// at-least-once within the process: one redelivery, then give up
			if err = d.transport.Deliver(e); err != nil {
				d.logger.Error(fmt.Sprintf("delivering %q event: %v", e.Type, err), err)
			}
		}
	}
}

// Close drains queued events and stops the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.events) })
	<-d.done
}
