package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/metrics"
)

const (
	// queueCapacity bounds the outbound event buffer. When full, the
	// oldest event is dropped so detection never blocks on slow sinks.
	queueCapacity = 256

	// deliverTimeout caps one sink's total delivery time per event,
	// retries included.
	deliverTimeout = 10 * time.Second

	maxAttempts = 3
)

// Dispatcher fans alert events out to all configured sinks
// asynchronously. Each sink gets independent retries and its own
// circuit breaker, so a dead endpoint cannot back up the others.
type Dispatcher struct {
	log   *zap.Logger
	sinks []Sink

	breakers map[string]*gobreaker.CircuitBreaker
	queue    chan Event

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		sinks:    sinks,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(sinks)),
		queue:    make(chan Event, queueCapacity),
		stop:     make(chan struct{}),
	}
	for _, s := range sinks {
		name := s.Name()
		d.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("alert sink breaker state change",
					zap.String("sink", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return d
}

// Start launches the dispatch worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains nothing: queued events not yet picked up are abandoned,
// but in-flight deliveries complete.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// Emit enqueues an event for delivery. A full queue drops the oldest
// event rather than blocking the caller.
func (d *Dispatcher) Emit(ev Event) {
	for {
		select {
		case d.queue <- ev:
			return
		default:
		}
		select {
		case <-d.queue:
			metrics.AlertQueueDropped.Inc()
			d.log.Warn("alert queue full, dropped oldest event")
		default:
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case ev := <-d.queue:
			d.deliverAll(ev)
		}
	}
}

// deliverAll fans one event out to every sink in parallel and waits for
// all of them, so event ordering is preserved per dispatcher.
func (d *Dispatcher) deliverAll(ev Event) {
	var wg sync.WaitGroup
	for _, s := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			d.deliver(s, ev)
		}(s)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(s Sink, ev Event) {
	name := s.Name()
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	_, err := d.breakers[name].Execute(func() (any, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.Multiplier = 2

		return nil, backoff.Retry(func() error {
			err := s.Deliver(ctx, ev)
			if err == nil {
				return nil
			}
			var se *StatusError
			if errors.As(err, &se) && se.Permanent() {
				metrics.AlertDeliveries.WithLabelValues(name, "permanent").Inc()
				return backoff.Permanent(err)
			}
			metrics.AlertDeliveries.WithLabelValues(name, "retryable").Inc()
			return err
		}, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
	})

	if err != nil {
		metrics.AlertDeliveries.WithLabelValues(name, "failed").Inc()
		d.log.Error("alert delivery failed",
			zap.String("sink", name),
			zap.String("alert_id", ev.ID),
			zap.Error(err))
		return
	}
	metrics.AlertDeliveries.WithLabelValues(name, "ok").Inc()
	d.log.Info("alert delivered",
		zap.String("sink", name),
		zap.String("alert_id", ev.ID))
}
