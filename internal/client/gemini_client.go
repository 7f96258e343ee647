package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/makeasinger/lrcgen/internal/config"
	"github.com/makeasinger/lrcgen/internal/model"
)

// AudioTranscriber sends an audio payload and an instruction to a generative
// model using the caller's API key and returns the model's text verbatim.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload, prompt string) (string, error)
	// Mode names the upload strategy, used for metrics and logs
	Mode() string
}

// Option configures a Gemini transcriber
type Option func(*geminiClient)

// WithHTTPClient overrides the HTTP client handed to the genai SDK
func WithHTTPClient(hc *http.Client) Option {
	return func(c *geminiClient) {
		c.httpClient = hc
	}
}

// NewAudioTranscriber returns the strategy selected by cfg.UploadMode
func NewAudioTranscriber(cfg *config.GeminiConfig, logger *zap.Logger, opts ...Option) (AudioTranscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := geminiClient{
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(&base)
	}

	switch cfg.UploadMode {
	case config.UploadModeFile:
		return &FileTranscriber{geminiClient: base}, nil
	case config.UploadModeInline:
		return &InlineTranscriber{geminiClient: base}, nil
	default:
		return nil, fmt.Errorf("unknown upload mode: %s", cfg.UploadMode)
	}
}

// geminiClient holds what both strategies share. A genai client is created
// per request because the API key belongs to the caller.
type geminiClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func (c *geminiClient) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// generate pairs the audio part with the instruction and returns the text
// unchanged, including an empty one
func (c *geminiClient) generate(ctx context.Context, client *genai.Client, audioPart *genai.Part, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			audioPart,
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return resp.Text(), nil
}

// FileTranscriber uploads the audio through the Files API and references it
// by URI in the generation request.
type FileTranscriber struct {
	geminiClient
}

func (t *FileTranscriber) Mode() string {
	return config.UploadModeFile
}

// Transcribe uploads the audio, generates the lyrics, then removes the remote file
func (t *FileTranscriber) Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload, prompt string) (string, error) {
	client, err := t.newClient(ctx, apiKey)
	if err != nil {
		return "", err
	}

	file, err := client.Files.Upload(ctx, bytes.NewReader(audio.Data), &genai.UploadFileConfig{
		MIMEType:    audio.MIMEType,
		DisplayName: audio.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio file: %w", err)
	}
	defer t.deleteRemote(client, file.Name)

	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = audio.MIMEType
	}

	return t.generate(ctx, client, genai.NewPartFromURI(file.URI, mimeType), prompt)
}

// deleteRemote is best effort; uploaded files also expire on their own
func (t *FileTranscriber) deleteRemote(client *genai.Client, name string) {
	if name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Files.Delete(ctx, name, nil); err != nil {
		t.logger.Warn("failed to delete uploaded audio", zap.String("file", name), zap.Error(err))
	}
}

// InlineTranscriber embeds the audio bytes in the generation request
type InlineTranscriber struct {
	geminiClient
}

func (t *InlineTranscriber) Mode() string {
	return config.UploadModeInline
}

// Transcribe sends the audio as inline data
func (t *InlineTranscriber) Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload, prompt string) (string, error) {
	client, err := t.newClient(ctx, apiKey)
	if err != nil {
		return "", err
	}

	return t.generate(ctx, client, genai.NewPartFromBytes(audio.Data, audio.MIMEType), prompt)
}
