package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"openrecords-be/internal/bootstrap"
	"openrecords-be/internal/config"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/pkg/database"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SERVER_SECRET", "test-server-secret")
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("GO_ENV", "test")
	t.Setenv("BLOB_BACKEND", "vault")
	t.Setenv("VAULT_PATH", filepath.Join(dir, "vault"))
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("NATS_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("MAX_UPLOAD_BYTES", "4096")

	cfg := config.Load()
	require.NoError(t, cfg.Validate())

	db, err := database.NewSQLiteDB(filepath.Join(dir, "openrecords.db"), gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	container, err := bootstrap.NewContainer(db, cfg, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return New(cfg, container).GetApp()
}

func call(t *testing.T, app *fiber.App, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, path, token string, payload interface{}) *http.Request {
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func uploadRequest(t *testing.T, path, token, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func signup(t *testing.T, app *fiber.App, username string) string {
	t.Helper()
	status, _ := call(t, app, jsonRequest(http.MethodPost, "/api/auth/v1/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "long enough password",
	}))
	require.Equal(t, fiber.StatusCreated, status)

	status, body := call(t, app, jsonRequest(http.MethodPost, "/api/auth/v1/login", "", map[string]string{
		"login":    username,
		"password": "long enough password",
	}))
	require.Equal(t, fiber.StatusOK, status)

	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &login))
	require.Equal(t, "Bearer", login.TokenType)
	return login.AccessToken
}

func createRecord(t *testing.T, app *fiber.App, token, name string) string {
	t.Helper()
	status, body := call(t, app, jsonRequest(http.MethodPost, "/api/record/v1", token, map[string]string{"name": name}))
	require.Equal(t, fiber.StatusCreated, status, body.Message)

	var created struct {
		Id string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	return created.Id
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthErrors(t *testing.T) {
	app := newTestApp(t)
	signup(t, app, "alice")

	tests := []struct {
		name   string
		req    *http.Request
		status int
		kind   string
	}{
		{
			"duplicate username",
			jsonRequest(http.MethodPost, "/api/auth/v1/register", "", map[string]string{
				"username": "alice", "email": "other@example.com", "password": "long enough password",
			}),
			fiber.StatusConflict, "conflict",
		},
		{
			"short password",
			jsonRequest(http.MethodPost, "/api/auth/v1/register", "", map[string]string{
				"username": "bob", "email": "bob@example.com", "password": "short",
			}),
			fiber.StatusBadRequest, "validation_error",
		},
		{
			"wrong password",
			jsonRequest(http.MethodPost, "/api/auth/v1/login", "", map[string]string{
				"login": "alice", "password": "not the password",
			}),
			fiber.StatusUnauthorized, "unauthorized",
		},
		{
			"missing token",
			jsonRequest(http.MethodGet, "/api/record/v1", "", nil),
			fiber.StatusUnauthorized, "unauthorized",
		},
		{
			"forged token",
			jsonRequest(http.MethodGet, "/api/record/v1", "not.a.token", nil),
			fiber.StatusUnauthorized, "unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, tt.req)
			assert.Equal(t, tt.status, status)
			assert.False(t, body.Success)
			assert.Equal(t, tt.kind, body.Kind)
		})
	}
}

func TestRecordsAreScopedToOwner(t *testing.T) {
	app := newTestApp(t)
	alice := signup(t, app, "alice")
	mallory := signup(t, app, "mallory")
	recordId := createRecord(t, app, alice, "contracts")

	status, _ := call(t, app, jsonRequest(http.MethodGet, "/api/record/v1/"+recordId, alice, nil))
	assert.Equal(t, fiber.StatusOK, status)

	status, body := call(t, app, jsonRequest(http.MethodGet, "/api/record/v1/"+recordId, mallory, nil))
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "record not found", body.Message)

	status, body = call(t, app, jsonRequest(http.MethodGet, "/api/record/v1/not-an-id", alice, nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body.Kind)

	status, body = call(t, app, jsonRequest(http.MethodPost, "/api/rag/v1/query", mallory, map[string]interface{}{
		"record_id": recordId,
		"query":     "what is in here",
	}))
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body.Kind)
}

func TestUploadIsAccepted(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	recordId := createRecord(t, app, token, "minutes")

	status, body := call(t, app, uploadRequest(t, "/api/record/v1/"+recordId+"/documents", token, "minutes.txt", "The board met on Monday."))
	require.Equal(t, fiber.StatusAccepted, status, body.Message)

	var uploaded struct {
		DocumentId string `json:"document_id"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &uploaded))
	assert.Equal(t, "stored", uploaded.Status)

	status, body = call(t, app, uploadRequest(t, "/api/record/v1/"+recordId+"/documents", token, "minutes.txt", "The board met on Monday."))
	assert.Equal(t, fiber.StatusOK, status, "duplicate upload")

	status, body = call(t, app, jsonRequest(http.MethodGet, "/api/document/v1/"+uploaded.DocumentId, token, nil))
	require.Equal(t, fiber.StatusOK, status)
	var doc struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &doc))
	assert.Equal(t, "minutes.txt", doc.Filename)

	status, body = call(t, app, uploadRequest(t, "/api/record/v1/"+recordId+"/documents", token, "tool.exe", "MZ"))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body.Kind)

	status, _ = call(t, app, uploadRequest(t, "/api/record/v1/"+recordId+"/documents", token, "big.txt", strings.Repeat("a", 5000)))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGenerateRejectsUnknownTool(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	recordId := createRecord(t, app, token, "notes")

	status, body := call(t, app, jsonRequest(http.MethodPost, "/api/rag/v1/generate", token, map[string]interface{}{
		"record_id": recordId,
		"tool":      "poem",
	}))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body.Message, "unknown tool")

	// ollama has no image endpoint
	status, body = call(t, app, jsonRequest(http.MethodPost, "/api/rag/v1/generate", token, map[string]interface{}{
		"record_id": recordId,
		"tool":      "pdf_export",
	}))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body.Message, "image-capable provider")
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/ws/ingestion", token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestMetricsUseNormalizedPaths(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	recordId := createRecord(t, app, token, "metrics")
	call(t, app, jsonRequest(http.MethodGet, "/api/record/v1/"+recordId, token, nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), "openrecords_http_requests_total")
	assert.Contains(t, string(raw), `path="/api/record/v1/{id}"`)
	assert.NotContains(t, string(raw), recordId)
}

func TestChatHistoryEndpoints(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	recordId := createRecord(t, app, token, "minutes")
	path := "/api/chat/v1/" + recordId

	messages := []map[string]interface{}{
		{"id": "m1", "role": "user", "content": "who attended", "timestamp": "2026-03-01T09:00:00Z"},
		{"id": "m2", "role": "assistant", "content": "the whole board", "timestamp": "2026-03-01T09:00:05Z",
			"sources": []map[string]interface{}{{"document_id": "d1"}}},
	}
	status, body := call(t, app, jsonRequest(http.MethodPost, path, token, map[string]interface{}{"messages": messages}))
	require.Equal(t, fiber.StatusOK, status, body.Message)

	status, body = call(t, app, jsonRequest(http.MethodGet, path, token, nil))
	require.Equal(t, fiber.StatusOK, status)
	var history struct {
		Messages []struct {
			Id      string          `json:"id"`
			Content string          `json:"content"`
			Sources json.RawMessage `json:"sources"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "m2", history.Messages[1].Id)
	assert.JSONEq(t, `[{"document_id":"d1"}]`, string(history.Messages[1].Sources))

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"record id mismatch", map[string]interface{}{"record_id": "6f1c2c7e-5d0b-4c53-9d55-6a4c1b7f0e11", "messages": messages}},
		{"unknown role", map[string]interface{}{"messages": []map[string]interface{}{
			{"id": "m1", "role": "tool", "content": "x", "timestamp": "2026-03-01T09:00:00Z"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, jsonRequest(http.MethodPost, path, token, tt.payload))
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body.Kind)
		})
	}

	status, _ = call(t, app, jsonRequest(http.MethodDelete, path, token, nil))
	assert.Equal(t, fiber.StatusOK, status)
	_, body = call(t, app, jsonRequest(http.MethodGet, path, token, nil))
	require.NoError(t, json.Unmarshal(body.Data, &history))
	assert.Empty(t, history.Messages)
}

func TestReferenceRejectsLocalAddresses(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	recordId := createRecord(t, app, token, "research")

	for _, url := range []string{"http://127.0.0.1:8080/admin", "http://169.254.169.254/latest/meta-data", "http://localhost/"} {
		t.Run(url, func(t *testing.T) {
			status, body := call(t, app, jsonRequest(http.MethodPost, "/api/reference/v1", token, map[string]string{
				"record_id": recordId,
				"url":       url,
			}))
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body.Kind)
		})
	}

	status, body := call(t, app, jsonRequest(http.MethodGet, "/api/reference/v1/record/"+recordId, token, nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body.Data, "no reference was created")
}

func TestDeleteAccount(t *testing.T) {
	app := newTestApp(t)
	token := signup(t, app, "alice")
	createRecord(t, app, token, "minutes")

	status, body := call(t, app, jsonRequest(http.MethodGet, "/api/user/v1/me", token, nil))
	require.Equal(t, fiber.StatusOK, status)
	var me struct {
		Username string `json:"username"`
		Records  int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, 1, me.Records)

	status, body = call(t, app, jsonRequest(http.MethodDelete, "/api/user/v1/me", token, map[string]string{"password": "wrong"}))
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body.Kind)

	status, _ = call(t, app, jsonRequest(http.MethodDelete, "/api/user/v1/me", token, map[string]string{"password": "long enough password"}))
	require.Equal(t, fiber.StatusOK, status)

	status, _ = call(t, app, jsonRequest(http.MethodGet, "/api/user/v1/me", token, nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = call(t, app, jsonRequest(http.MethodPost, "/api/auth/v1/login", "", map[string]string{
		"login": "alice", "password": "long enough password",
	}))
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
