package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/config"
	"github.com/abduss/bucketsvc/internal/file"
	"github.com/abduss/bucketsvc/internal/memstore"
	"github.com/abduss/bucketsvc/internal/quota"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]auth.User
}

func (m *memUsers) CreateUser(_ context.Context, input auth.NewUser) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == input.Username {
			return auth.User{}, auth.ErrUsernameAlreadyExists
		}
		if u.Email == input.Email {
			return auth.User{}, auth.ErrEmailAlreadyExists
		}
	}
	user := auth.User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		FullName:     input.FullName,
		IsAdmin:      input.IsAdmin,
		PasswordHash: input.PasswordHash,
		CreatedAt:    time.Now(),
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memUsers) FindUserByUsername(_ context.Context, username string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (m *memUsers) FindUserByID(_ context.Context, id uuid.UUID) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) StoreRefreshToken(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (m *memUsers) RevokeToken(context.Context, uuid.UUID, string) error {
	return nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, quotaBytes int64, db Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		Metrics: config.MetricsConfig{PrometheusPath: "/metrics"},
		Auth: config.AuthConfig{
			AccessTokenSecret:  "test-access-secret",
			RefreshTokenSecret: "test-refresh-secret",
			AccessTokenTTL:     time.Minute,
			RefreshTokenTTL:    time.Hour,
			BcryptCost:         4,
		},
	}

	store := memstore.New()
	ledger := quota.NewLedger(store.Buckets(), quotaBytes)
	return NewRouter(Dependencies{
		Config:        cfg,
		DB:            db,
		Blobs:         fs,
		AuthService:   auth.NewService(&memUsers{users: make(map[uuid.UUID]auth.User)}, cfg.Auth),
		BucketService: bucket.NewService(store.Buckets(), store.Files(), fs),
		FileService:   file.NewService(store.Files(), store.Buckets(), ledger, fs, quotaBytes),
		Ledger:        ledger,
	})
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c *client) do(method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func (c *client) json(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	return c.do(method, path, bytes.NewBuffer(raw), "application/json")
}

func (c *client) upload(bucketName, filename string, content []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, err = part.Write(content)
	require.NoError(c.t, err)
	require.NoError(c.t, writer.Close())
	return c.do(http.MethodPost, "/v1/buckets/"+bucketName+"/files", &buf, writer.FormDataContentType())
}

func (c *client) signUp(username string) {
	c.t.Helper()
	rec := c.json(http.MethodPost, "/v1/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(c.t, resp.Tokens.AccessToken)
	c.token = resp.Tokens.AccessToken
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUserFullWorkflow(t *testing.T) {
	c := &client{t: t, router: newTestRouter(t, 1<<20, nil)}
	c.signUp("alice")

	rec := c.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "e2e-bucket", "description": "workflow"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	contents := map[string]string{
		"file1.txt": "Content 1",
		"file2.txt": "Content 22",
		"file3.txt": "Content 333",
	}
	for name, body := range contents {
		rec = c.upload("e2e-bucket", name, []byte(body))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = c.do(http.MethodGet, "/v1/buckets/e2e-bucket/files", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[struct {
		Files []file.Metadata `json:"files"`
	}](t, rec)
	assert.Len(t, files.Files, 3)

	rec = c.do(http.MethodGet, "/v1/buckets/e2e-bucket", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[bucket.Bucket](t, rec)
	assert.Equal(t, int64(3), b.FileCount)
	assert.Equal(t, int64(9+10+11), b.TotalSize)

	for name, body := range contents {
		rec = c.do(http.MethodGet, "/v1/buckets/e2e-bucket/files/"+name, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
	}

	rec = c.do(http.MethodGet, "/v1/usage", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[quota.Usage](t, rec)
	assert.Equal(t, int64(30), usage.UsedBytes)

	rec = c.do(http.MethodDelete, "/v1/buckets/e2e-bucket/files/file1.txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = c.do(http.MethodGet, "/v1/buckets/e2e-bucket/files/file1.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodDelete, "/v1/buckets/e2e-bucket", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodGet, "/v1/usage", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[quota.Usage](t, rec).UsedBytes)
}

func TestErrorStatuses(t *testing.T) {
	c := &client{t: t, router: newTestRouter(t, 10, nil)}
	c.signUp("bob")

	rec := c.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "Bad Name!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = c.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "docs"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.upload("missing", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.upload("docs", "a.txt", []byte("123456"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = c.upload("docs", "a.txt", []byte("1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.upload("docs", "b.txt", []byte("12345"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = c.upload("docs", "c.txt", []byte(strings.Repeat("x", 11)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBucketsAreScopedToOwner(t *testing.T) {
	router := newTestRouter(t, 1<<20, nil)
	alice := &client{t: t, router: router}
	alice.signUp("alice")
	bob := &client{t: t, router: router}
	bob.signUp("bob")

	require.Equal(t, http.StatusCreated, alice.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "shared-name"}).Code)
	require.Equal(t, http.StatusCreated, bob.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "shared-name"}).Code)
	require.Equal(t, http.StatusCreated, alice.upload("shared-name", "a.txt", []byte("alice")).Code)

	rec := bob.do(http.MethodGet, "/v1/buckets/shared-name/files/a.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := &client{t: t, router: newTestRouter(t, 1<<20, nil)}

	for _, path := range []string{"/v1/buckets", "/v1/usage", "/v1/me"} {
		rec := c.do(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestHealthRoutes(t *testing.T) {
	c := &client{t: t, router: newTestRouter(t, 1<<20, nil)}
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health/live", nil, "").Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health/ready", nil, "").Code)

	c = &client{t: t, router: newTestRouter(t, 1<<20, failingPinger{err: errors.New("down")})}
	rec := c.do(http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "postgres", decode[map[string]string](t, rec)["component"])
}

func TestCorrelationIDEchoed(t *testing.T) {
	router := newTestRouter(t, 1<<20, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestCORSOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(config.ServerConfig{CORSOrigins: []string{"https://app.example"}}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestJSONResponsesAreCompressed(t *testing.T) {
	c := &client{t: t, router: newTestRouter(t, 1<<20, nil)}
	c.signUp("carol")
	require.Equal(t, http.StatusCreated, c.json(http.MethodPost, "/v1/buckets", map[string]string{"name": "docs"}).Code)
	require.Equal(t, http.StatusCreated, c.upload("docs", "a.txt", []byte("plain bytes")).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/buckets", nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	req = httptest.NewRequest(http.MethodGet, "/v1/buckets/docs/files/a.txt", nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "plain bytes", rec.Body.String())
}
