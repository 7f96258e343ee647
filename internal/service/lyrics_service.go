package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/lrcgen/internal/client"
	"github.com/makeasinger/lrcgen/internal/metrics"
	"github.com/makeasinger/lrcgen/internal/model"
)

// ErrProcessingFailed is the only error LyricsService returns. The cause is
// logged and never reaches the caller.
var ErrProcessingFailed = errors.New("lyrics processing failed")

// LyricsTranscriber defines the interface for turning audio into LRC lyrics
type LyricsTranscriber interface {
	Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload) (*model.ProcessResponse, error)
}

// LyricsService transcribes audio into LRC lyrics using Gemini
type LyricsService struct {
	transcriber client.AudioTranscriber
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewLyricsService creates a new lyrics service with the given transcriber
func NewLyricsService(transcriber client.AudioTranscriber, m *metrics.Metrics, logger *zap.Logger) *LyricsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LyricsService{
		transcriber: transcriber,
		metrics:     m,
		logger:      logger,
	}
}

// Transcribe asks the model for LRC lyrics and returns its text unchanged
func (s *LyricsService) Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload) (*model.ProcessResponse, error) {
	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, apiKey, audio, model.TranscriptionPrompt)
	elapsed := time.Since(start)

	s.metrics.RecordGemini(s.transcriber.Mode(), elapsed.Seconds(), err)

	if err != nil {
		return nil, s.translateError(audio, elapsed, err)
	}

	if s.metrics != nil {
		s.metrics.LRCBytes.Observe(float64(len(text)))
	}
	s.logger.Info("lyrics generated",
		zap.String("upload_id", audio.ID),
		zap.String("mode", s.transcriber.Mode()),
		zap.Int("lrc_bytes", len(text)),
		zap.Duration("elapsed", elapsed),
	)

	return &model.ProcessResponse{LRCContent: text}, nil
}

// translateError is the single boundary where collaborator failures are
// collapsed into ErrProcessingFailed.
func (s *LyricsService) translateError(audio *model.AudioUpload, elapsed time.Duration, err error) error {
	s.logger.Error("lyrics generation failed",
		zap.String("upload_id", audio.ID),
		zap.String("filename", audio.Filename),
		zap.String("mime_type", audio.MIMEType),
		zap.Int64("size", audio.Size()),
		zap.String("mode", s.transcriber.Mode()),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return ErrProcessingFailed
}
