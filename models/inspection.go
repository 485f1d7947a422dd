package models

import "encoding/json"

// CreateInspectionRequest - тело запроса на создание инспекции.
// ID генерируется клиентом офлайн; если пуст, сервер назначит UUID.
type CreateInspectionRequest struct {
	ID              string          `json:"id,omitempty"`
	TemplateID      string          `json:"template_id"`
	FacilityName    string          `json:"facility_name"`
	FacilityAddress string          `json:"facility_address,omitempty"`
	Responses       json.RawMessage `json:"responses,omitempty"`
	Status          string          `json:"status,omitempty"`
}

// UpdateInspectionRequest - частичное обновление. Отсутствующие поля не меняются.
// ID используется только в пакетной синхронизации (в REST он в пути).
type UpdateInspectionRequest struct {
	ID              string          `json:"id,omitempty"`
	Version         *int64          `json:"version"`
	FacilityName    *string         `json:"facility_name,omitempty"`
	FacilityAddress *string         `json:"facility_address,omitempty"`
	Responses       json.RawMessage `json:"responses,omitempty"`
	Status          *string         `json:"status,omitempty"`
}

// DeleteInspectionRequest - мягкое удаление черновика (пакетная синхронизация).
type DeleteInspectionRequest struct {
	ID      string `json:"id"`
	Version *int64 `json:"version,omitempty"`
}

// ReviewRequest - тело запроса менеджера на одобрение или отклонение.
type ReviewRequest struct {
	Version int64  `json:"version"`
	Notes   string `json:"notes,omitempty"`
}

// OperationResult - канонический результат мутации, сохраняемый в журнале идемпотентности.
type OperationResult struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// ConflictResponse - тело ответа 409 при расхождении версий.
type ConflictResponse struct {
	Error         string          `json:"error"`
	Message       string          `json:"message"`
	ClientVersion int64           `json:"client_version"`
	ServerVersion int64           `json:"server_version"`
	ServerData    json.RawMessage `json:"server_data"`
}
