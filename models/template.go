package models

import "encoding/json"

// CreateTemplateRequest - тело запроса на создание шаблона инспекции.
type CreateTemplateRequest struct {
	Name            string          `json:"name"`
	Version         int             `json:"version,omitempty"`
	ChecklistItems  json.RawMessage `json:"checklist_items"`
	ResponsesSchema json.RawMessage `json:"responses_schema,omitempty"`
}
