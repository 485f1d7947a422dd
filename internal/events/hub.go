// Package events рассылает уведомления об изменениях инспекций подписчикам.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/fieldsync/internal/models"
)

// Типы событий.
const (
	TypeCreated  = "inspection.created"
	TypeUpdated  = "inspection.updated"
	TypeDeleted  = "inspection.deleted"
	TypeConflict = "inspection.conflict"
)

const defaultBufferSize = 32

var droppedSubscribersTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fieldsync_events_dropped_subscribers_total",
	Help: "Количество подписчиков, отключенных из-за переполнения буфера.",
})

// InspectionEvent - уведомление об изменении инспекции.
type InspectionEvent struct {
	Type         string                  `json:"type"`
	InspectionID string                  `json:"inspection_id"`
	Version      int64                   `json:"version"`
	Status       models.InspectionStatus `json:"status,omitempty"`
	UserID       int64                   `json:"user_id"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

// Subscription - канал событий одного подписчика.
// Канал закрывается при отписке или при отключении медленного подписчика.
type Subscription struct {
	C  <-chan InspectionEvent
	ch chan InspectionEvent
}

// Hub - локальная рассылка событий. Publish не блокируется:
// подписчик с заполненным буфером отключается.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	logger      *slog.Logger
}

// NewHub создает хаб событий.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  defaultBufferSize,
		logger:      logger.With(slog.String("component", "EventsHub")),
	}
}

// Subscribe регистрирует нового подписчика.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan InspectionEvent, h.bufferSize)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Новый подписчик", slog.Int("subscribers", count))
	return sub
}

// Unsubscribe удаляет подписчика. Повторный вызов безопасен.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
}

// Publish отправляет событие всем подписчикам.
func (h *Hub) Publish(ev InspectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subscribers, sub)
			close(sub.ch)
			droppedSubscribersTotal.Inc()
			h.logger.Warn("Подписчик отключен: буфер событий переполнен",
				slog.String("inspection_id", ev.InspectionID))
		}
	}
}

// Len возвращает число активных подписчиков.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
