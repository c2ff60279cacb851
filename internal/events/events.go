// Package events carries promotion lifecycle notifications to registered
// observers. Observers never affect orchestrator behavior; publish errors are
// logged, not surfaced.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/helixops/promoter/internal/models"
)

// Lifecycle event names. Every event carries the full promotion snapshot.
const (
	PromotionRequested  = "promotion:requested"
	PromotionApproved   = "promotion:approved"
	PromotionRejected   = "promotion:rejected"
	PromotionCompleted  = "promotion:completed"
	PromotionFailed     = "promotion:failed"
	PromotionRolledBack = "promotion:rolled-back"
)

// Names lists every lifecycle event, in emission order of a typical flow.
var Names = []string{
	PromotionRequested,
	PromotionApproved,
	PromotionRejected,
	PromotionCompleted,
	PromotionFailed,
	PromotionRolledBack,
}

// Terminal lists the events after which a promotion can never change.
var Terminal = []string{PromotionCompleted, PromotionFailed, PromotionRolledBack}

// Event is one lifecycle notification.
type Event struct {
	Name      string           `json:"name"`
	Promotion models.Promotion `json:"promotion"`
	TS        time.Time        `json:"ts"`
}

// Handler receives events synchronously. Handlers that may block should hand
// off to their own goroutine.
type Handler func(Event)

// Publisher is an in-process observer registry keyed by event name.
type Publisher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewPublisher() *Publisher {
	return &Publisher{handlers: map[string][]Handler{}}
}

// Subscribe registers h for one event name.
func (p *Publisher) Subscribe(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = append(p.handlers[name], h)
}

// SubscribeAll registers h for every lifecycle event.
func (p *Publisher) SubscribeAll(h Handler) {
	for _, name := range Names {
		p.Subscribe(name, h)
	}
}

// Publish delivers the event to every handler registered for its name. A
// panicking handler is contained and logged.
func (p *Publisher) Publish(evt Event) {
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	p.mu.RLock()
	hs := append([]Handler(nil), p.handlers[evt.Name]...)
	p.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panic on %s: %v", evt.Name, r)
				}
			}()
			h(evt)
		}()
	}
}
