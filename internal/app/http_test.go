package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"carrel/api/internal/store"
)

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*"), svc
}

func signUpToken(t *testing.T, svc *Service) string {
	t.Helper()
	sess, err := svc.SignUp(context.Background(), "avery@example.com", "password123", "Avery")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return sess.Token
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/spaces", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: 1, Email: email}, nil
		},
	}
	server, _ := newTestServer(fs)

	body := strings.NewReader(`{"email":"taken@example.com","password":"password123","displayName":"Avery"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", rec.Code)
	}
}

func TestPublicShareRouteSkipsAuth(t *testing.T) {
	fs := &fakeStore{
		getPubByShareIDFn: func(_ context.Context, shareID string) (store.PublicationRecord, error) {
			if shareID != "abc123" {
				return store.PublicationRecord{}, sql.ErrNoRows
			}
			return store.PublicationRecord{Kind: store.KindNote, EntityID: "nt_1", ShareID: shareID, IsActive: true}, nil
		},
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, OwnerID: 1, Title: "Public", Content: "hello"}, nil
		},
	}
	server, _ := newTestServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/p/abc123", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for active share, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["kind"] != "note" || payload["title"] != "Public" {
		t.Fatalf("unexpected payload %v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/p/unknown", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown share, got %d", rec.Code)
	}
}

func TestOrderEndpointRejectsMalformedScope(t *testing.T) {
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			user.ID = 1
			return user, nil
		},
	}
	server, svc := newTestServer(fs)
	token := signUpToken(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/order?scope=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed scope, got %d", rec.Code)
	}
}

func TestCreateSpaceEndpoint(t *testing.T) {
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			user.ID = 1
			return user, nil
		},
	}
	server, svc := newTestServer(fs)
	token := signUpToken(t, svc)

	body := strings.NewReader(`{"name":"Research"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/spaces", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["name"] != "Research" {
		t.Fatalf("unexpected payload %v", payload)
	}
	id, _ := payload["id"].(string)
	if !strings.HasPrefix(id, "sp_") {
		t.Fatalf("expected sp_ prefixed id, got %q", id)
	}
}
