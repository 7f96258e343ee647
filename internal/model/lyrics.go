package model

import "mime/multipart"

// ProcessRequest represents the multipart form posted to /api/process
type ProcessRequest struct {
	APIKey string                `validate:"required"`
	File   *multipart.FileHeader `validate:"required"`
}

// ProcessResponse represents the response for a successful transcription
type ProcessResponse struct {
	LRCContent string `json:"lrcContent"`
}
