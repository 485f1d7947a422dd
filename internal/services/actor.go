package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/fieldsync/internal/models"
)

// Actor - аутентифицированный пользователь, от имени которого выполняется операция.
type Actor struct {
	UserID int64
	Role   string
}

// IsManager сообщает, имеет ли пользователь права менеджера.
func (a Actor) IsManager() bool {
	return a.Role == models.RoleManager
}

// canSee - инспектор видит только свои инспекции, менеджер - все.
func (a Actor) canSee(insp *models.Inspection) bool {
	return a.IsManager() || insp.InspectorID == a.UserID
}

// Clock - источник текущего времени.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает системное время в UTC.
type SystemClock struct{}

// Now реализует Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator - генератор идентификаторов для полей, назначаемых сервером.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator генерирует UUID v4.
type UUIDGenerator struct{}

// NewID реализует IDGenerator.
func (UUIDGenerator) NewID() string { return uuid.NewString() }
