// Package notify fans engine notifications out to listeners. Every
// notification goes through one buffered channel drained by one goroutine,
// so listeners see a single FIFO stream no matter which worker produced it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
)

// Listener receives notifications on the dispatcher goroutine.
type Listener interface {
	Notify(n domain.Notification)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(n domain.Notification)

// Notify calls f(n).
func (f ListenerFunc) Notify(n domain.Notification) { f(n) }

// DefaultPublishWait is how long Publish waits for room in a full queue.
const DefaultPublishWait = 100 * time.Millisecond

// Dispatcher implements domain.Publisher.
type Dispatcher struct {
	ch          chan domain.Notification
	mu          sync.RWMutex
	listeners   []Listener
	done        chan struct{}
	closeOnce   sync.Once
	publishWait time.Duration
	dropped     atomic.Int64
	log         *slog.Logger
}

var _ domain.Publisher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		ch:          make(chan domain.Notification, buffer),
		done:        make(chan struct{}),
		publishWait: DefaultPublishWait,
		log:         slog.Default().With("component", "dispatcher"),
	}
}

// Subscribe registers a listener. Safe to call while Run is active.
func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// Publish enqueues n. Callers hold per-user locks, so a full queue is
// waited on for at most publishWait; after that n is dropped and counted.
// Once the dispatcher has stopped Publish returns without enqueuing.
func (d *Dispatcher) Publish(n domain.Notification) {
	select {
	case d.ch <- n:
		return
	case <-d.done:
		return
	default:
	}

	timer := time.NewTimer(d.publishWait)
	defer timer.Stop()
	select {
	case d.ch <- n:
	case <-d.done:
	case <-timer.C:
		d.dropped.Add(1)
		metrics.NotificationsDropped.WithLabelValues(string(n.Kind())).Inc()
		d.log.Warn("notification queue full, dropped", "type", n.Kind(), "user", n.User())
	}
}

// Dropped returns how many notifications were dropped on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers notifications until ctx is cancelled, then drains what is
// already queued and stops.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })
	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return nil
				}
			}
		}
	}
}

// Backlog returns the number of queued notifications.
func (d *Dispatcher) Backlog() int {
	return len(d.ch)
}

func (d *Dispatcher) deliver(n domain.Notification) {
	metrics.NotificationsPublished.WithLabelValues(string(n.Kind())).Inc()

	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	for _, l := range listeners {
		d.safeNotify(l, n)
	}
}

func (d *Dispatcher) safeNotify(l Listener, n domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("listener panicked", "type", n.Kind(), "user", n.User(), "panic", r)
		}
	}()
	l.Notify(n)
}
