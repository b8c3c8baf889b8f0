package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/telemetry"
)

// MetricsUpdated is published to subscribers after a bar's recomputation.
type MetricsUpdated struct {
	Symbol      string             `json:"symbol"`
	UpdatedKeys []models.MetricKey `json:"updated_keys"`
	AsOf        time.Time          `json:"as_of"`
}

// Subscription is one live MetricsUpdated stream.
type Subscription struct {
	ID     uuid.UUID
	Symbol string
	C      <-chan MetricsUpdated
}

// Hub fans MetricsUpdated events out to per-symbol subscribers. Sends never
// block: a full subscriber buffer drops the event for that subscriber so a
// slow consumer cannot stall bar processing.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[uuid.UUID]chan MetricsUpdated
	byID    map[uuid.UUID]string
	bufSize int
	logger  *logrus.Logger
	metrics *telemetry.Metrics
	closed  bool
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(bufSize int, logger *logrus.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[uuid.UUID]chan MetricsUpdated),
		byID:    make(map[uuid.UUID]string),
		bufSize: bufSize,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers a new stream of MetricsUpdated events for the symbol.
func (h *Hub) Subscribe(symbol string) Subscription {
	ch := make(chan MetricsUpdated, h.bufSize)
	id := uuid.New()

	h.mu.Lock()
	if h.subs[symbol] == nil {
		h.subs[symbol] = make(map[uuid.UUID]chan MetricsUpdated)
	}
	h.subs[symbol][id] = ch
	h.byID[id] = symbol
	h.mu.Unlock()

	return Subscription{ID: id, Symbol: symbol, C: ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	symbol, ok := h.byID[id]
	if !ok {
		return
	}
	delete(h.byID, id)
	if ch, ok := h.subs[symbol][id]; ok {
		delete(h.subs[symbol], id)
		close(ch)
	}
	if len(h.subs[symbol]) == 0 {
		delete(h.subs, symbol)
	}
}

// Publish delivers an event to every subscriber of its symbol.
func (h *Hub) Publish(event MetricsUpdated) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for id, ch := range h.subs[event.Symbol] {
		select {
		case ch <- event:
			h.metrics.EventsPublished.Inc()
		default:
			h.metrics.EventsDropped.Inc()
			h.logger.WithFields(logrus.Fields{
				"symbol":     event.Symbol,
				"subscriber": id,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, bySymbol := range h.subs {
		for _, ch := range bySymbol {
			close(ch)
		}
	}
	h.subs = make(map[string]map[uuid.UUID]chan MetricsUpdated)
	h.byID = make(map[uuid.UUID]string)
}
