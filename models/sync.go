package models

import "encoding/json"

// Статусы элемента пакетной синхронизации.
const (
	ItemStatusSuccess  = "success"
	ItemStatusConflict = "conflict"
	ItemStatusError    = "error"
)

// BatchOperation - одна операция, накопленная клиентом офлайн.
type BatchOperation struct {
	OperationType  string          `json:"operation_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Data           json.RawMessage `json:"data"`
}

// BatchRequest - тело запроса POST /api/sync/batch.
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// ConflictDetails - данные сервера для ручного слияния на клиенте.
type ConflictDetails struct {
	ClientVersion int64           `json:"client_version"`
	ServerVersion int64           `json:"server_version"`
	ServerData    json.RawMessage `json:"server_data"`
}

// ErrorDetail - машиночитаемый код и описание ошибки.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchItemResult - результат одной операции пакета, в порядке запроса.
type BatchItemResult struct {
	Index          int              `json:"index"`
	IdempotencyKey string           `json:"idempotency_key"`
	OperationType  string           `json:"operation_type"`
	Status         string           `json:"status"`
	Replayed       bool             `json:"replayed,omitempty"`
	Data           json.RawMessage  `json:"data,omitempty"`
	Conflict       *ConflictDetails `json:"conflict,omitempty"`
	Error          *ErrorDetail     `json:"error,omitempty"`
}

// BatchResponse - тело ответа пакетной синхронизации.
type BatchResponse struct {
	Results []BatchItemResult `json:"results"`
}

// ResolveConflictRequest - отметка конфликта как разрешенного.
type ResolveConflictRequest struct {
	Strategy string `json:"strategy"`
}
