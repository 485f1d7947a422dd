package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/maynagashev/fieldsync/internal/events"
)

// eventWriteTimeout - предел записи одного события в сокет.
const eventWriteTimeout = 5 * time.Second

// EventSource - рассылка уведомлений об изменениях инспекций.
type EventSource interface {
	Subscribe() *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

// EventsHandler отдает поток событий по websocket.
type EventsHandler struct {
	source EventSource
	opts   *websocket.AcceptOptions
	logger *slog.Logger
}

// NewEventsHandler создает новый экземпляр EventsHandler.
// originPatterns - разрешенные Origin для браузерных клиентов.
func NewEventsHandler(source EventSource, originPatterns []string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		opts:   &websocket.AcceptOptions{OriginPatterns: originPatterns},
		logger: logger.With(slog.String("component", "EventsHandler")),
	}
}

// Subscribe обрабатывает GET /api/events. Соединение живет, пока клиент
// его не закроет или хаб не отключит отстающего подписчика.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r, h.logger)
	if !ok {
		return
	}

	// WriteTimeout сервера не должен обрывать долгоживущее соединение.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, h.opts)
	if err != nil {
		h.logger.Info("Не удалось установить websocket-соединение", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	sub := h.source.Subscribe()
	defer h.source.Unsubscribe(sub)
	h.logger.Info("Подписчик подключен", slog.Int64("user_id", actor.UserID))

	// Входящие сообщения не ожидаются, CloseRead обрабатывает закрытие со стороны клиента.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Подписчик отключился", slog.Int64("user_id", actor.UserID))
			return
		case ev, open := <-sub.C:
			if !open {
				h.logger.Warn("Подписчик отключен за отставание", slog.Int64("user_id", actor.UserID))
				_ = conn.Close(websocket.StatusPolicyViolation, "подписчик не успевает читать события")
				return
			}
			if err = writeEvent(ctx, conn, ev); err != nil {
				h.logger.Info("Ошибка отправки события", slog.Any("error", err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev events.InspectionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
