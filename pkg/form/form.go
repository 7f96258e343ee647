// Package form is a Go client for the lyrics upload endpoint. It keeps the
// same rules as the browser page: one audio file up to MaxFileSize, one API
// key, a single request in flight, and the result saved as lyrics.lrc.
package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

const (
	// MaxFileSize is the largest audio file a form accepts
	MaxFileSize = 4 << 20

	DownloadFilename    = "lyrics.lrc"
	DownloadContentType = "text/plain;charset=utf-8"

	// FallbackErrorMessage is shown when a failed response carries no text
	FallbackErrorMessage = "处理失败，请检查 API Key 和音频文件。"
)

// AcceptedExtensions lists the audio types offered for selection
var AcceptedExtensions = []string{".mp3", ".wav", ".aac", ".flac"}

var (
	ErrFileTooLarge = errors.New("文件大小超过 4MB 限制，请选择较小的文件。")
	ErrMissingInput = errors.New("请提供 Gemini API Key 并选择一个音频文件。")
	ErrInFlight     = errors.New("request already in progress")
	ErrNoResult     = errors.New("no lyrics to download")
)

// SubmitError is a non-2xx answer from the server. Message is the server's
// text, or FallbackErrorMessage when there was none.
type SubmitError struct {
	StatusCode int
	Message    string
}

func (e *SubmitError) Error() string {
	return e.Message
}

// File is an audio file chosen for upload
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// Accepts reports whether name has one of the AcceptedExtensions
func Accepts(name string) bool {
	return lo.Contains(AcceptedExtensions, strings.ToLower(filepath.Ext(name)))
}

type Option func(*Form)

// WithHTTPClient sets the client used for Submit
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Form) {
		f.httpClient = hc
	}
}

// Form holds the state of one upload form
type Form struct {
	endpoint   string
	httpClient *http.Client

	mu         sync.Mutex
	apiKey     string
	file       *File
	lrcContent string

	processing atomic.Bool
}

// New creates a form that posts to endpoint, e.g. http://localhost:8000/api/process
func New(endpoint string, opts ...Option) *Form {
	f := &Form{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Form) SetAPIKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = key
}

// SelectFile replaces the current selection. A file over MaxFileSize is
// rejected and leaves nothing selected.
func (f *Form) SelectFile(file File) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(file.Data) > MaxFileSize {
		f.file = nil
		return ErrFileTooLarge
	}
	f.file = &file
	return nil
}

// Selected returns the current file, or nil
func (f *Form) Selected() *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file
}

// Processing reports whether a Submit is outstanding
func (f *Form) Processing() bool {
	return f.processing.Load()
}

// LRCContent returns the lyrics from the last successful Submit
func (f *Form) LRCContent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lrcContent
}

// Submit uploads the selected file with the API key and stores the returned
// lyrics. A previous result is kept when Submit fails.
func (f *Form) Submit(ctx context.Context) (string, error) {
	f.mu.Lock()
	apiKey, file := f.apiKey, f.file
	f.mu.Unlock()

	if apiKey == "" || file == nil {
		return "", ErrMissingInput
	}
	if !f.processing.CompareAndSwap(false, true) {
		return "", ErrInFlight
	}
	defer f.processing.Store(false)

	body, contentType, err := encodeForm(apiKey, file)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmitError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}

	var result struct {
		LRCContent string `json:"lrcContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	f.mu.Lock()
	f.lrcContent = result.LRCContent
	f.mu.Unlock()

	return result.LRCContent, nil
}

// WriteLRC writes the stored lyrics to w byte for byte
func (f *Form) WriteLRC(w io.Writer) error {
	content := f.LRCContent()
	if content == "" {
		return ErrNoResult
	}
	_, err := io.WriteString(w, content)
	return err
}

// Download saves the stored lyrics as DownloadFilename in dir and returns
// the path written.
func (f *Form) Download(dir string) (string, error) {
	content := f.LRCContent()
	if content == "" {
		return "", ErrNoResult
	}

	path := filepath.Join(dir, DownloadFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", DownloadFilename, err)
	}
	return path, nil
}

func encodeForm(apiKey string, file *File) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("apiKey", apiKey); err != nil {
		return nil, "", fmt.Errorf("failed to write apiKey field: %w", err)
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(file.Data).String()
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filepath.Base(file.Name),
	}))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// readErrorMessage prefers the JSON error field, then the raw text
func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FallbackErrorMessage
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
			return FallbackErrorMessage
		}
		return body.Error
	}

	if text := string(data); text != "" {
		return text
	}
	return FallbackErrorMessage
}
