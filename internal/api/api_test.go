package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/session"
	"github.com/ashureev/groupmind/internal/store"
	"github.com/go-chi/chi/v5"
)

type fakeRepo struct {
	incidents map[string]*domain.Incident
	pingErr   error
	getErr    error
}

func (f *fakeRepo) InsertIncident(_ context.Context, inc *domain.Incident) error {
	if f.incidents == nil {
		f.incidents = make(map[string]*domain.Incident)
	}
	f.incidents[inc.ErrorID] = inc
	return nil
}

func (f *fakeRepo) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	inc, ok := f.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return inc, nil
}

func (f *fakeRepo) CleanupIncidents(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(context.Context) error                                     { return f.pingErr }
func (f *fakeRepo) Close() error                                                   { return nil }

type fakeChecker struct{ err error }

func (f fakeChecker) Health(context.Context) error { return f.err }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHealthHealthy(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler(&fakeRepo{}, fakeChecker{}).RegisterHealth(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" {
		t.Fatalf("unexpected status %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["text_backend"] != "ok" || checks["database"] != "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestHealthDegraded(t *testing.T) {
	tests := []struct {
		name  string
		repo  *fakeRepo
		text  fakeChecker
		check string
	}{
		{"database down", &fakeRepo{pingErr: errors.New("disk gone")}, fakeChecker{}, "database"},
		{"text backend down", &fakeRepo{}, fakeChecker{err: errors.New("connection refused")}, "text_backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.repo, tt.text).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rec.Code)
			}
			checks := decode(t, rec)["checks"].(map[string]interface{})
			if checks[tt.check] != "unreachable" {
				t.Fatalf("expected %s unreachable, got %v", tt.check, checks)
			}
		})
	}
}

func TestHealthWithoutTextChecker(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(&fakeRepo{}, nil).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	checks := decode(t, rec)["checks"].(map[string]interface{})
	if _, ok := checks["text_backend"]; ok {
		t.Fatal("text_backend should not be reported without a checker")
	}
}

func newAdmin(t *testing.T, repo *fakeRepo, sessions *session.Store) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewAdminHandler(repo, sessions, "s3cret").RegisterRoutes(r)
	return r
}

func adminGet(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresToken(t *testing.T) {
	h := newAdmin(t, &fakeRepo{}, session.NewStore(nil))

	if rec := adminGet(h, "/api/chats", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := adminGet(h, "/api/chats", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	r := chi.NewRouter()
	NewAdminHandler(&fakeRepo{}, session.NewStore(nil), "").RegisterRoutes(r)

	if rec := adminGet(r, "/api/chats", "anything"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminGetIncident(t *testing.T) {
	repo := &fakeRepo{}
	_ = repo.InsertIncident(context.Background(), &domain.Incident{
		ErrorID: "0123456789abcdef0123456789abcdef",
		ChatID:  "-100",
		Command: "chat",
		Cause:   "upstream 500",
	})
	h := newAdmin(t, repo, session.NewStore(nil))

	rec := adminGet(h, "/api/incidents/0123456789abcdef0123456789abcdef", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["cause"] != "upstream 500" || body["chat_id"] != "-100" {
		t.Fatalf("unexpected incident %v", body)
	}

	if rec := adminGet(h, "/api/incidents/missing", "s3cret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminGetIncidentStoreError(t *testing.T) {
	h := newAdmin(t, &fakeRepo{getErr: errors.New("database is locked")}, session.NewStore(nil))

	if rec := adminGet(h, "/api/incidents/abc", "s3cret"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAdminChats(t *testing.T) {
	sessions := session.NewStore([]string{"-200"})
	err := sessions.Update(context.Background(), "-100", func(s *session.ChatSession) error {
		s.History.Observe(domain.GroupMessage{SenderName: "alice", Text: "hi"})
		s.History.AppendTurn(domain.Turn{Role: domain.RoleUser, Content: "hello", Name: "alice"})
		return nil
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	sessions.Get("-200")
	h := newAdmin(t, &fakeRepo{}, sessions)

	rec := adminGet(h, "/api/chats", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	chats := decode(t, rec)["chats"].([]interface{})
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %v", chats)
	}

	rec = adminGet(h, "/api/chats/-100", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["state"] != "online" || body["group_log_size"] != float64(1) {
		t.Fatalf("unexpected chat view %v", body)
	}
	if d := body["dialogue"].([]interface{}); len(d) != 1 {
		t.Fatalf("expected 1 dialogue turn, got %v", d)
	}

	body = decode(t, adminGet(h, "/api/chats/-200", "s3cret"))
	if body["state"] != "offline" {
		t.Fatalf("expected offline chat, got %v", body["state"])
	}

	if rec := adminGet(h, "/api/chats/unknown", "s3cret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
