package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/lrcgen/internal/config"
	"github.com/makeasinger/lrcgen/internal/metrics"
	"github.com/makeasinger/lrcgen/internal/model"
)

type fakeTranscriber struct {
	text  string
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, apiKey string, audio *model.AudioUpload, prompt string) (string, error) {
	f.calls++
	return f.text, nil
}

func (f *fakeTranscriber) Mode() string {
	return config.UploadModeInline
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "8000", Env: "test", LogLevel: "info"},
		RateLimit: config.RateLimitConfig{ProcessPerMin: 10},
		Upload:    config.UploadConfig{MaxFileSize: 4 << 20},
		Gemini:    config.GeminiConfig{Model: "gemini-2.5-flash", UploadMode: config.UploadModeInline},
	}
}

func setupServer(t *testing.T, tr *fakeTranscriber) *Deps {
	t.Helper()
	reg := prometheus.NewRegistry()
	return &Deps{
		Config:      testConfig(),
		Metrics:     metrics.NewMetrics(reg),
		Gatherer:    reg,
		Transcriber: tr,
	}
}

func doRequest(t *testing.T, d *Deps, req *http.Request) *http.Response {
	t.Helper()
	resp, err := New(*d).Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func TestHealth(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp := doRequest(t, d, req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body := parseJSON(t, resp)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	services, ok := body["services"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'services' object, got %v", body["services"])
	}
	if services["redis"] != false {
		t.Errorf("expected redis to be reported down without a client, got %v", services["redis"])
	}
	if body["uploadMode"] != "inline" {
		t.Errorf("expected uploadMode 'inline', got %v", body["uploadMode"])
	}
	if body["model"] != "gemini-2.5-flash" {
		t.Errorf("expected model name, got %v", body["model"])
	}
}

func TestIndexPage(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp := doRequest(t, d, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("expected html, got %q", resp.Header.Get("Content-Type"))
	}
}

func TestProcessEndToEnd(t *testing.T) {
	tr := &fakeTranscriber{text: "[00:00.00]你好\n"}
	d := setupServer(t, tr)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("apiKey", "key")
	part, _ := w.CreateFormFile("file", "song.mp3")
	_, _ = part.Write([]byte("ID3\x03\x00fake"))
	w.Close()

	req, _ := http.NewRequest(http.MethodPost, "/api/process", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := doRequest(t, d, req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body := parseJSON(t, resp)
	if body["lrcContent"] != "[00:00.00]你好\n" {
		t.Errorf("unexpected lrcContent %v", body["lrcContent"])
	}
	if tr.calls != 1 {
		t.Errorf("expected 1 transcriber call, got %d", tr.calls)
	}
}

func TestProcessWrongMethod(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})

	req, _ := http.NewRequest(http.MethodGet, "/api/process", nil)
	resp := doRequest(t, d, req)

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.StatusCode)
	}
	body := parseJSON(t, resp)
	if body["error"] != model.MsgUnsupportedMethod {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: newErrorHandler(4<<20, nil)})
	app.Get("/too-large", func(c *fiber.Ctx) error { return fiber.ErrRequestEntityTooLarge })
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("database password is hunter2") })

	tests := []struct {
		path    string
		status  int
		message string
	}{
		{path: "/too-large", status: http.StatusRequestEntityTooLarge, message: model.FileTooLargeMessage(4 << 20)},
		{path: "/teapot", status: http.StatusTeapot, message: "short and stout"},
		{path: "/boom", status: http.StatusInternalServerError, message: model.MsgInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			body := parseJSON(t, resp)
			if body["error"] != tt.message {
				t.Errorf("expected error %q, got %v", tt.message, body["error"])
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})

	req, _ := http.NewRequest(http.MethodGet, "/nope", nil)
	resp := doRequest(t, d, req)

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
	body := parseJSON(t, resp)
	if body["error"] != model.MsgNotFound {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})
	app := New(*d)

	// one rejected request so the counter has a series
	req, _ := http.NewRequest(http.MethodDelete, "/api/process", nil)
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `lrcgen_process_requests_total{outcome="method_not_allowed"} 1`) {
		t.Errorf("expected process counter in exposition, got:\n%s", body)
	}
}

// counterHook answers INCR, EXPIRE, TTL and PING in memory so a real
// *redis.Client can back the rate limiter without a server.
type counterHook struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newHookedRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rdb.AddHook(&counterHook{counts: make(map[string]int64)})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func (h *counterHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *counterHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *counterHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		switch c := cmd.(type) {
		case *redis.IntCmd:
			key := fmt.Sprint(cmd.Args()[1])
			h.counts[key]++
			c.SetVal(h.counts[key])
		case *redis.BoolCmd:
			c.SetVal(true)
		case *redis.DurationCmd:
			c.SetVal(time.Minute)
		case *redis.StatusCmd:
			c.SetVal("PONG")
		default:
			err := fmt.Errorf("unexpected command %s", cmd.Name())
			cmd.SetErr(err)
			return err
		}
		return nil
	}
}

func TestRateLimitOnlyCountsPost(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})
	d.Config.RateLimit.ProcessPerMin = 1
	d.Redis = newHookedRedis(t)
	app := New(*d)

	post := func() int {
		req, _ := http.NewRequest(http.MethodPost, "/api/process", strings.NewReader(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp.StatusCode
	}

	// wrong methods are rejected before the limiter and never counted
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/api/process", nil)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected status 405, got %d", resp.StatusCode)
		}
	}

	if code := post(); code == http.StatusTooManyRequests {
		t.Fatalf("first POST should not be limited")
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second POST to be limited, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, "/api/process", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 after the limit is reached, got %d", resp.StatusCode)
	}
}

// startListener serves app on a loopback port so requests can bypass the
// client-side checks of app.Test.
func startListener(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestOversizedBodyByMethod(t *testing.T) {
	d := setupServer(t, &fakeTranscriber{})
	addr := startListener(t, New(*d))

	tests := []struct {
		method  string
		status  int
		message string
		allow   string
	}{
		{method: http.MethodPut, status: http.StatusMethodNotAllowed, message: model.MsgUnsupportedMethod, allow: http.MethodPost},
		{method: http.MethodDelete, status: http.StatusMethodNotAllowed, message: model.MsgUnsupportedMethod, allow: http.MethodPost},
		{method: http.MethodPost, status: http.StatusRequestEntityTooLarge, message: model.FileTooLargeMessage(4 << 20)},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
			if err != nil {
				t.Fatalf("failed to dial: %v", err)
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			// only the headers are sent; the declared length alone exceeds the limit
			_, err = fmt.Fprintf(conn, "%s /api/process HTTP/1.1\r\nHost: localhost\r\n"+
				"Content-Type: multipart/form-data; boundary=x\r\nContent-Length: %d\r\n\r\n",
				tt.method, 6<<20)
			if err != nil {
				t.Fatalf("failed to write request: %v", err)
			}

			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if err != nil {
				t.Fatalf("failed to read response: %v", err)
			}

			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if got := resp.Header.Get("Allow"); got != tt.allow {
				t.Errorf("expected Allow %q, got %q", tt.allow, got)
			}
			body := parseJSON(t, resp)
			if body["error"] != tt.message {
				t.Errorf("expected error %q, got %v", tt.message, body["error"])
			}
		})
	}
}
