package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/classforge/pkg/models"
)

// EventType names an observable orchestrator event
type EventType string

const (
	EventStageChanged  EventType = "stage_changed"
	EventSpecFragment  EventType = "spec_fragment"
	EventSpecReady     EventType = "spec_ready"
	EventCodeReady     EventType = "code_ready"
	EventMaterialReady EventType = "material_ready"
	EventError         EventType = "error"
	EventCreditsDenied EventType = "credits_denied"
	EventEditStarted   EventType = "edit_started"
	EventEditCountdown EventType = "edit_countdown"
	EventEditClosed    EventType = "edit_closed"
)

// Edit session close reasons
const (
	EditClosedSaved      = "saved"
	EditClosedUnchanged  = "unchanged"
	EditClosedCancelled  = "cancelled"
	EditClosedExpired    = "expired"
	EditClosedSuperseded = "superseded"
)

// Event is one observable change, delivered in transition order
type Event struct {
	Type         EventType              `json:"type"`
	RunID        string                 `json:"run_id,omitempty"`
	Epoch        uint64                 `json:"epoch"`
	Stage        models.Stage           `json:"stage,omitempty"`
	Fragment     string                 `json:"fragment,omitempty"`
	Error        string                 `json:"error,omitempty"`
	LastArtifact models.Artifact        `json:"last_artifact,omitempty"`
	Material     *models.MaterialResult `json:"material,omitempty"`
	Countdown    *int                   `json:"countdown,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Required     *int                   `json:"required,omitempty"`
	Balance      *int                   `json:"balance,omitempty"`
	Time         time.Time              `json:"time"`
}

func intPtr(v int) *int {
	return &v
}

type subscriber struct {
	id       uuid.UUID
	outbound chan Event
}

// hub fans events out to buffered subscriber channels. A subscriber whose
// buffer is full misses the event.
type hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	closed      bool
	logger      *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		subscribers: make(map[uuid.UUID]*subscriber),
		logger:      logger,
	}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{id: uuid.New(), outbound: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.outbound)
		return sub.outbound, func() {}
	}
	h.subscribers[sub.id] = sub
	h.logger.Debug("Event subscriber added", "subscriber", sub.id, "buffer", buffer)

	var once sync.Once
	return sub.outbound, func() {
		once.Do(func() { h.remove(sub.id) })
	}
}

func (h *hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(sub.outbound)
		h.logger.Debug("Event subscriber removed", "subscriber", id)
	}
}

func (h *hub) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.outbound <- ev:
		default:
			h.logger.Warn("Dropping event; subscriber buffer full", "subscriber", sub.id, "type", ev.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.outbound)
		delete(h.subscribers, id)
	}
}
