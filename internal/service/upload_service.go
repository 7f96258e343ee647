package service

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/makeasinger/lrcgen/internal/model"
)

// FileReader defines the interface for loading an uploaded part into memory
type FileReader interface {
	Read(file *multipart.FileHeader) (*model.AudioUpload, error)
}

// UploadService reads uploaded audio into memory for one request
type UploadService struct{}

// NewUploadService creates a new upload service
func NewUploadService() *UploadService {
	return &UploadService{}
}

// Read opens the uploaded part and reads all of its bytes
func (s *UploadService) Read(file *multipart.FileHeader) (*model.AudioUpload, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	return &model.AudioUpload{
		ID:       uuid.New().String(),
		Filename: file.Filename,
		MIMEType: resolveMIMEType(file.Header.Get("Content-Type"), data),
		Data:     data,
	}, nil
}

// resolveMIMEType keeps the declared media type unless it carries no
// information, in which case the content is sniffed.
func resolveMIMEType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mediaType
	}
	declared = strings.ToLower(strings.TrimSpace(declared))

	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	detected := mimetype.Detect(data)
	return detected.String()
}
