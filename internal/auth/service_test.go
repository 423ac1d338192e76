package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		BcryptCost:         4,
	}
}

func registerAlice(t *testing.T, service *Service) AuthResult {
	t.Helper()
	result, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	return result
}

func TestRegisterSuccess(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig())

	result := registerAlice(t, service)

	if result.User.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped from response")
	}
	if result.User.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %s", result.User.Email)
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued")
	}
	if len(store.users) != 1 {
		t.Fatalf("expected user stored; got %d", len(store.users))
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig())
	registerAlice(t, service)

	_, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "AnotherPass2!",
	})
	if !errors.Is(err, ErrUsernameAlreadyExists) || !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("expected ErrUsernameAlreadyExists, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig())
	registerAlice(t, service)

	_, err := service.Register(context.Background(), RegisterInput{
		Username: "bob",
		Email:    "alice@example.com",
		Password: "AnotherPass2!",
	})
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig())
	registerAlice(t, service)

	result, err := service.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}

	if result.Tokens.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if result.Tokens.RefreshToken == "" {
		t.Fatalf("expected refresh token")
	}
}

func TestLoginInvalidPassword(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig())
	registerAlice(t, service)

	_, err := service.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: "WrongPass",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = service.Login(context.Background(), LoginInput{
		Username: "nobody",
		Password: "StrongPass1!",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestValidateAccessToken(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig())
	result := registerAlice(t, service)

	claims, err := service.ValidateAccessToken(result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken returned error: %v", err)
	}
	if claims.UserID != result.User.ID || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := service.ValidateAccessToken(result.Tokens.AccessToken + "x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected tampered token to be rejected, got %v", err)
	}

	service.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := service.ValidateAccessToken(result.Tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig())
	result := registerAlice(t, service)

	if len(store.refreshTokens) != 1 {
		t.Fatalf("expected refresh token stored")
	}
	if err := service.Logout(context.Background(), result.User.ID, result.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if len(store.refreshTokens) != 0 {
		t.Fatalf("expected refresh token revoked")
	}
}

func TestEnsureAdmin(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig())
	admin := config.AdminConfig{Username: "admin", Email: "admin@example.com", Password: "AdminPass1!"}

	created, err := service.EnsureAdmin(context.Background(), admin)
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got %v/%v", created, err)
	}
	created, err = service.EnsureAdmin(context.Background(), admin)
	if err != nil || created {
		t.Fatalf("expected second call to be a no-op, got %v/%v", created, err)
	}
	if !store.users["admin"].IsAdmin {
		t.Fatalf("expected stored admin flag")
	}

	created, err = service.EnsureAdmin(context.Background(), config.AdminConfig{Username: "root"})
	if err != nil || created {
		t.Fatalf("expected seeding to be skipped without password")
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := NewService(newMemoryStore(), testConfig())
	result := registerAlice(t, service)

	r := gin.New()
	r.Use(AuthMiddleware(service))
	r.GET("/whoami", func(c *gin.Context) {
		id, user, ok := RequireUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String()+" "+user.Username)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+result.Tokens.AccessToken)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	if rr.Body.String() != result.User.ID.String()+" alice" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

// memoryStore implements userStore for tests.
type memoryStore struct {
	users         map[string]User
	refreshTokens map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         make(map[string]User),
		refreshTokens: make(map[string]time.Time),
	}
}

func (m *memoryStore) CreateUser(ctx context.Context, input NewUser) (User, error) {
	if _, ok := m.users[input.Username]; ok {
		return User{}, ErrUsernameAlreadyExists
	}
	for _, u := range m.users {
		if u.Email == input.Email {
			return User{}, ErrEmailAlreadyExists
		}
	}
	user := User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		FullName:     input.FullName,
		IsAdmin:      input.IsAdmin,
		PasswordHash: input.PasswordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.users[input.Username] = user
	return user, nil
}

func (m *memoryStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	user, ok := m.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memoryStore) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryStore) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.refreshTokens[tokenHash] = expiresAt
	return nil
}

func (m *memoryStore) RevokeToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	delete(m.refreshTokens, tokenHash)
	return nil
}
