package models

import "time"

// UploadURLRequest - запрос presigned URL для прямой загрузки фото.
type UploadURLRequest struct {
	InspectionID string `json:"inspection_id"`
	ContentType  string `json:"content_type"`
}

// UploadURLResponse - presigned URL и ключ объекта для подтверждения загрузки.
type UploadURLResponse struct {
	UploadURL string    `json:"upload_url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmUploadRequest - подтверждение, что клиент загрузил файл по presigned URL.
type ConfirmUploadRequest struct {
	InspectionID string `json:"inspection_id"`
	ObjectKey    string `json:"object_key"`
	Width        *int   `json:"width,omitempty"`
	Height       *int   `json:"height,omitempty"`
}
