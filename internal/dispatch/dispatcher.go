// Package dispatch implements the outcome dispatcher, the composition
// root of the learning feedback loop.
//
// One outcome event fans out to every registered consumer exactly once,
// sequentially, within the calling goroutine. The core contract is
// isolation: a consumer that errors or panics is logged and marked
// failed in the result map, and the remaining consumers still run. A
// bug in goal discovery must never stop the progress tracker from
// recording. Malformed events are rejected at the boundary before any
// consumer is invoked.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// Consumer is one learning component fed by the dispatcher. Consume is
// called at most once per event; implementations own and lock their
// own state.
type Consumer interface {
	Name() string
	Consume(event *models.OutcomeEvent) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(event *models.OutcomeEvent) error
}

func (c ConsumerFunc) Name() string { return c.ConsumerName }

func (c ConsumerFunc) Consume(event *models.OutcomeEvent) error {
	return c.Fn(event)
}

// Dispatcher fans outcome events out to registered consumers.
type Dispatcher struct {
	mu        sync.RWMutex
	consumers []Consumer

	totalDispatched atomic.Int64
	fullySucceeded  atomic.Int64
	consumerErrors  atomic.Int64
	rejected        atomic.Int64
}

// NewDispatcher creates a dispatcher with the given consumers, invoked
// in registration order.
func NewDispatcher(consumers ...Consumer) *Dispatcher {
	return &Dispatcher{consumers: consumers}
}

// Register appends a consumer to the fan-out.
func (d *Dispatcher) Register(c Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, c)
}

// Dispatch validates the event and fans it out. Returns a per-consumer
// success map. A validation failure returns (nil, err) with nothing
// invoked; consumer failures never propagate out of Dispatch.
func (d *Dispatcher) Dispatch(event *models.OutcomeEvent) (map[string]bool, error) {
	if err := event.Validate(); err != nil {
		d.rejected.Add(1)
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	d.mu.RLock()
	consumers := make([]Consumer, len(d.consumers))
	copy(consumers, d.consumers)
	d.mu.RUnlock()

	d.totalDispatched.Add(1)

	results := make(map[string]bool, len(consumers))
	allOK := true
	for _, c := range consumers {
		if err := d.consume(c, event); err != nil {
			d.consumerErrors.Add(1)
			allOK = false
			results[c.Name()] = false
			log.Warn().
				Str("consumer", c.Name()).
				Str("task_id", event.TaskID).
				Err(err).
				Msg("Outcome consumer failed, continuing fan-out")
			continue
		}
		results[c.Name()] = true
	}

	if allOK {
		d.fullySucceeded.Add(1)
	}
	return results, nil
}

// consume invokes one consumer, converting panics into errors so a
// broken consumer cannot abort the fan-out.
func (d *Dispatcher) consume(c Consumer, event *models.OutcomeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Consume(event)
}

// Consumers returns the registered consumer names in fan-out order.
func (d *Dispatcher) Consumers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.consumers))
	for i, c := range d.consumers {
		names[i] = c.Name()
	}
	return names
}

// Stats returns dispatcher counters for health reporting.
func (d *Dispatcher) Stats() models.DispatchStats {
	return models.DispatchStats{
		TotalDispatched: d.totalDispatched.Load(),
		FullySucceeded:  d.fullySucceeded.Load(),
		ConsumerErrors:  d.consumerErrors.Load(),
		Rejected:        d.rejected.Load(),
	}
}

// Reset clears the dispatch counters. Consumer state is owned by the
// consumers themselves and reset separately.
func (d *Dispatcher) Reset() {
	d.totalDispatched.Store(0)
	d.fullySucceeded.Store(0)
	d.consumerErrors.Store(0)
	d.rejected.Store(0)
}
