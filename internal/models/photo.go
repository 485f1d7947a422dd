package models

import "time"

// Photo - метаданные фотографии инспекции. Сам файл лежит в объектном хранилище.
type Photo struct {
	ID           string    `db:"id" json:"id"`
	InspectionID string    `db:"inspection_id" json:"inspection_id"`
	ObjectKey    string    `db:"object_key" json:"object_key"`
	ContentType  string    `db:"content_type" json:"content_type"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	Width        *int      `db:"width" json:"width,omitempty"`
	Height       *int      `db:"height" json:"height,omitempty"`
	UploadedAt   time.Time `db:"uploaded_at" json:"uploaded_at"`
}
