package models

import (
	"encoding/json"
	"time"
)

// InspectionTemplate - шаблон чек-листа, который мобильный клиент скачивает онлайн.
type InspectionTemplate struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Version        int             `db:"version" json:"version"`
	ChecklistItems json.RawMessage `db:"checklist_items" json:"checklist_items"`
	// ResponsesSchema - необязательная JSON Schema для поля responses инспекции.
	ResponsesSchema json.RawMessage `db:"responses_schema" json:"responses_schema,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}
