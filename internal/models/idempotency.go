package models

import (
	"encoding/json"
	"time"
)

// Типы операций, фиксируемые в журнале идемпотентности.
const (
	OperationCreateInspection  = "CREATE_INSPECTION"
	OperationUpdateInspection  = "UPDATE_INSPECTION"
	OperationDeleteInspection  = "DELETE_INSPECTION"
	OperationApproveInspection = "APPROVE_INSPECTION"
	OperationRejectInspection  = "REJECT_INSPECTION"
)

// IdempotencyRecord - запись журнала обработанных операций.
// Result воспроизводится клиенту байт в байт при повторе запроса.
type IdempotencyRecord struct {
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	OperationType  string          `db:"operation_type" json:"operation_type"`
	EntityID       string          `db:"entity_id" json:"entity_id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	ProcessedAt    time.Time       `db:"processed_at" json:"processed_at"`
	Result         json.RawMessage `db:"result" json:"result"`
}
