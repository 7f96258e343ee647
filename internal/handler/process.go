package handler

import (
	"mime/multipart"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/makeasinger/lrcgen/internal/metrics"
	"github.com/makeasinger/lrcgen/internal/model"
	"github.com/makeasinger/lrcgen/internal/service"
	"github.com/makeasinger/lrcgen/pkg/response"
)

type ProcessHandler struct {
	uploads     service.FileReader
	lyrics      service.LyricsTranscriber
	validator   *validator.Validate
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxFileSize int64
}

func NewProcessHandler(
	uploads service.FileReader,
	lyrics service.LyricsTranscriber,
	v *validator.Validate,
	m *metrics.Metrics,
	logger *zap.Logger,
	maxFileSize int64,
) *ProcessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessHandler{
		uploads:     uploads,
		lyrics:      lyrics,
		validator:   v,
		metrics:     m,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

// Process handles POST /api/process
func (h *ProcessHandler) Process(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("failed to parse multipart form", zap.String("ip", c.IP()), zap.Error(err))
		h.metrics.RecordOutcome(metrics.OutcomeParseError)
		return response.ServiceError(c, model.MsgParseFailed)
	}

	// Size limit is part of parsing, so it is checked before required fields
	for _, fh := range form.File["file"] {
		if fh.Size > h.maxFileSize {
			h.metrics.RecordOutcome(metrics.OutcomeTooLarge)
			return response.PayloadTooLarge(c, model.FileTooLargeMessage(h.maxFileSize))
		}
	}

	req := model.ProcessRequest{
		APIKey: strings.TrimSpace(firstValue(form.Value["apiKey"])),
		File:   firstFile(form.File["file"]),
	}
	if err := h.validator.Struct(&req); err != nil {
		h.metrics.RecordOutcome(metrics.OutcomeMissingField)
		return response.ValidationError(c, model.MsgMissingFields)
	}

	audio, err := h.uploads.Read(req.File)
	if err != nil {
		h.logger.Error("failed to read uploaded audio", zap.String("filename", req.File.Filename), zap.Error(err))
		h.metrics.RecordOutcome(metrics.OutcomeFailed)
		return response.ServiceError(c, model.MsgProcessingFailed)
	}
	if h.metrics != nil {
		h.metrics.UploadBytes.Observe(float64(audio.Size()))
	}

	result, err := h.lyrics.Transcribe(c.UserContext(), req.APIKey, audio)
	if err != nil {
		// the service has already logged the cause
		h.metrics.RecordOutcome(metrics.OutcomeFailed)
		return response.ServiceError(c, model.MsgProcessingFailed)
	}

	h.metrics.RecordOutcome(metrics.OutcomeSuccess)
	return response.OK(c, result)
}

// MethodNotAllowed handles every non-POST method on /api/process
func (h *ProcessHandler) MethodNotAllowed(c *fiber.Ctx) error {
	h.metrics.RecordOutcome(metrics.OutcomeBadMethod)
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return response.MethodNotAllowed(c, model.MsgUnsupportedMethod)
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstFile(files []*multipart.FileHeader) *multipart.FileHeader {
	if len(files) == 0 {
		return nil
	}
	return files[0]
}
