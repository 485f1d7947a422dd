package models

import (
	"encoding/json"
	"time"
)

// InspectionStatus - статус инспекции в workflow согласования.
type InspectionStatus string

// Допустимые статусы инспекции.
const (
	StatusDraft     InspectionStatus = "draft"
	StatusSubmitted InspectionStatus = "submitted"
	StatusRejected  InspectionStatus = "rejected"
	StatusApproved  InspectionStatus = "approved"
)

// Valid сообщает, входит ли статус в закрытое множество.
func (s InspectionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusRejected, StatusApproved:
		return true
	}
	return false
}

// Inspection представляет версионированную запись инспекции.
// Version увеличивается ровно на 1 при каждой успешной мутации.
type Inspection struct {
	ID              string           `db:"id" json:"id"`
	TemplateID      string           `db:"template_id" json:"template_id"`
	InspectorID     int64            `db:"inspector_id" json:"inspector_id"`
	FacilityName    string           `db:"facility_name" json:"facility_name"`
	FacilityAddress string           `db:"facility_address" json:"facility_address"`
	Responses       json.RawMessage  `db:"responses" json:"responses"`
	Status          InspectionStatus `db:"status" json:"status"`
	Version         int64            `db:"version" json:"version"`

	ApprovedBy     *int64     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ApprovalNotes  *string    `db:"approval_notes" json:"approval_notes,omitempty"`
	RejectedAt     *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionNotes *string    `db:"rejection_notes" json:"rejection_notes,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	// Мягкое удаление: запись скрыта из списков, но доступна по ID для аудита.
	Deleted   bool       `db:"deleted" json:"deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy *int64     `db:"deleted_by" json:"deleted_by,omitempty"`
}

// Clone возвращает глубокую копию инспекции (для снимков конфликтов).
func (i *Inspection) Clone() *Inspection {
	if i == nil {
		return nil
	}
	c := *i
	if i.Responses != nil {
		c.Responses = append(json.RawMessage(nil), i.Responses...)
	}
	return &c
}

// InspectionFilter задает параметры выборки списка инспекций.
type InspectionFilter struct {
	InspectorID *int64 // nil - все инспекторы (менеджер)
	Status      *InspectionStatus
	Limit       int
	Offset      int
}
