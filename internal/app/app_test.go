package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/notify"
	"github.com/marianozunino/filez/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []*notify.Message
}

func (m *recordingMailer) Send(_ context.Context, msg *notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []*notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*notify.Message(nil), m.sent...)
}

// clock is a settable test clock
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()

	a, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSetup(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &config.Config{
		UploadPath: filepath.Join(tempDir, "uploads"),
	}

	err := setup(cfg)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.UploadPath)
	assert.NoError(t, err)
}

func TestSetupWithExistingDirectory(t *testing.T) {
	tempDir := t.TempDir()
	uploadPath := filepath.Join(tempDir, "existing-uploads")

	err := os.MkdirAll(uploadPath, 0o755)
	require.NoError(t, err)

	err = setup(&config.Config{UploadPath: uploadPath})
	assert.NoError(t, err)
}

func TestSetupWithInvalidPath(t *testing.T) {
	tempDir := t.TempDir()
	blocker := filepath.Join(tempDir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := setup(&config.Config{UploadPath: filepath.Join(blocker, "uploads")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, err := NewLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}

	_, err := NewLogger("chatty")
	assert.Error(t, err)
}

func TestNewWithInvalidConfig(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.HashLength = 4

	a, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestNewWithUnwritableDatabase(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.SQLitePath = filepath.Join(cfg.UploadPath, "missing", "dir", "filez.db")

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, testutil.Config(t))

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "filez_uploads_total 0")
	assert.Contains(t, body, "filez_sweep_duration_seconds")
	assert.Contains(t, body, "go_goroutines")
}

func TestUnknownRouteRendersJSONError(t *testing.T) {
	a := newTestApp(t, testutil.Config(t))

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a/b/c", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"error","statusText":"Not Found"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestBodyLimit(t *testing.T) {
	cfg := testutil.Config(t)
	assert.Equal(t, "11264K", bodyLimit(cfg))

	a := newTestApp(t, cfg)
	testutil.SeedRecord(t, a.db, "open00000001", testutil.Now.Add(time.Hour))

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "junk.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("a"), 12<<20))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/open00000001/download", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"status":"error","statusText":"Request Entity Too Large"}`, rec.Body.String())
}

func TestRunAndShutdown(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.Port = freePort(t)
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("application did not shut down")
	}
}

func TestRunFailsWhenPortIsTaken(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testutil.Config(t)
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	a := newTestApp(t, cfg)

	err = a.Run(context.Background())
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// client drives the application through its HTTP surface as a given user
type client struct {
	t    *testing.T
	app  *App
	user string
}

func (c client) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.user != "" {
		req.Header.Set(middleware.HeaderRemoteUser, c.user)
		req.Header.Set(middleware.HeaderRemoteEmail, c.user+"@example.com")
		req.Header.Set(middleware.HeaderRemoteFirstname, strings.ToUpper(c.user[:1])+c.user[1:])
		req.Header.Set(middleware.HeaderRemoteLastname, "Tester")
	}

	rec := httptest.NewRecorder()
	c.app.ServeHTTP(rec, req)
	return rec
}

func (c client) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c client) upload(name, content string, fields map[string]string) string {
	c.t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(c.t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", name)
	require.NoError(c.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(c.t, err)
	require.NoError(c.t, w.Close())

	rec := c.do(http.MethodPost, "/", body, w.FormDataContentType())
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		File struct {
			Hash string `json:"hash"`
		} `json:"file"`
	}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.File.Hash
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestFileLifecycle(t *testing.T) {
	cfg := testutil.Config(t)
	mailer := &recordingMailer{}
	clk := &clock{now: testutil.Now}
	a := newTestApp(t, cfg, WithClock(clk.Now), WithMailer(mailer))

	alice := client{t: t, app: a, user: "alice"}
	bob := client{t: t, app: a, user: "bob"}
	anon := client{t: t, app: a}

	hash := alice.upload("report.txt", "quarterly numbers", map[string]string{"password": "hunter2"})

	// owner listing
	rec := alice.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decodeBody(t, rec)["files"].([]any)
	require.Len(t, files, 1)

	rec = bob.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["files"])

	// preview and password protected download
	preview := decodeBody(t, anon.do(http.MethodGet, "/"+hash, nil, ""))
	assert.Equal(t, true, preview["check_password"])
	assert.Equal(t, "alice@example.com", preview["uploader"])

	rec = anon.postForm("/"+hash+"/download", url.Values{"password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = anon.postForm("/"+hash+"/download", url.Values{"password": {"hunter2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "quarterly numbers", rec.Body.String())
	assert.Equal(t, `attachment; filename="report.txt"`, rec.Header().Get("Content-Disposition"))

	// management is owner-only
	assert.Equal(t, http.StatusUnauthorized, bob.do(http.MethodPost, "/"+hash+"/extend", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/"+hash+"/delete", nil, "").Code)

	rec = alice.do(http.MethodPost, "/"+hash+"/extend", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = alice.postForm("/"+hash+"/email", url.Values{"to": {"carol@example.com"}, "msg": {"numbers attached"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"carol@example.com"}, sent[0].Bcc)
	assert.Equal(t, `[FileZ] "Alice Tester" wants to share a file with you`, sent[0].Subject)

	// after the lifetime and one extension, the file expires
	clk.Advance(cfg.DefaultLifetime + cfg.ExtensionUnit - 36*time.Hour)
	report := a.Sweep(context.Background())
	assert.Empty(t, report.Deleted)
	assert.Equal(t, []string{hash}, report.Notified)

	sent = mailer.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"alice@example.com"}, sent[1].To)
	assert.Equal(t, `[FileZ] Your file "report.txt" is going to be deleted`, sent[1].Subject)

	clk.Advance(36 * time.Hour)
	rec = anon.postForm("/"+hash+"/download", url.Values{"password": {"hunter2"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	report = a.Sweep(context.Background())
	assert.Equal(t, []string{hash}, report.Deleted)
	assert.Empty(t, report.Notified)
	assert.Len(t, mailer.messages(), 2)

	assert.Equal(t, http.StatusNotFound, anon.do(http.MethodGet, "/"+hash, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, alice.do(http.MethodGet, "/"+hash+"/download", nil, "").Code)
}

func TestOwnerDelete(t *testing.T) {
	a := newTestApp(t, testutil.Config(t))
	alice := client{t: t, app: a, user: "alice"}

	hash := alice.upload("tmp.txt", "scratch", nil)

	rec := alice.do(http.MethodPost, "/"+hash+"/delete", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = alice.do(http.MethodGet, "/"+hash, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries, err := os.ReadDir(a.config.UploadPath)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Name(), "test.db"), "leftover content %s", e.Name())
	}
}
