package models

import (
	"encoding/json"
	"time"
)

// Стратегии разрешения конфликта. Сервер только фиксирует выбор, слияние не выполняет.
const (
	ResolutionServerWins = "server"
	ResolutionClientWins = "client"
	ResolutionManual     = "manual"
)

// ConflictRecord - аудит-снимок обеих сторон обнаруженного расхождения версий.
type ConflictRecord struct {
	ID                  int64           `db:"id" json:"id"`
	InspectionID        string          `db:"inspection_id" json:"inspection_id"`
	UserID              int64           `db:"user_id" json:"user_id"`
	ClientVersionNumber int64           `db:"client_version_number" json:"client_version_number"`
	ServerVersionNumber int64           `db:"server_version_number" json:"server_version_number"`
	ClientData          json.RawMessage `db:"client_data" json:"client_data"`
	ServerData          json.RawMessage `db:"server_data" json:"server_data"`
	Resolved            bool            `db:"resolved" json:"resolved"`
	ResolvedAt          *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy          *int64          `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionStrategy  *string         `db:"resolution_strategy" json:"resolution_strategy,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// ConflictFilter задает параметры выборки конфликтов.
type ConflictFilter struct {
	UserID         *int64
	UnresolvedOnly bool
	Limit          int
	Offset         int
}
