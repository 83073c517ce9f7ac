package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/takniatech/htd-core/internal/infrastructure/config"
	"github.com/takniatech/htd-core/internal/infrastructure/logging"
	"github.com/takniatech/htd-core/internal/reading"
	"github.com/takniatech/htd-core/internal/settings"
	"github.com/takniatech/htd-core/internal/user"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			date_of_birth TEXT,
			gender TEXT,
			weight REAL,
			height REAL,
			profile_image_uri TEXT
		);
		CREATE TABLE temperature_readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			device_address TEXT NOT NULL,
			device_name TEXT,
			temperature REAL,
			unit TEXT,
			timestamp INTEGER,
			is_realtime INTEGER,
			device_error TEXT,
			raw_state INTEGER
		);
		CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT NOT NULL);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// newTestServer builds a server without a session manager over in-memory
// storage, returning the router for direct httptest use.
func newTestServer(t *testing.T) (*Server, http.Handler, *reading.Registry) {
	t.Helper()

	db := setupTestDB(t)
	registry := reading.NewRegistry(reading.NewSQLiteRepository(db))

	srv, err := New(Deps{
		Config: config.APIConfig{
			JWT: config.JWTConfig{Secret: "test-secret", ExpiryMins: 60},
		},
		Logger:   logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test"),
		Users:    user.NewSQLiteRepository(db),
		Readings: registry,
		Settings: settings.NewStore(db),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, srv.buildRouter(), registry
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// signupAndLogin creates an account and returns its access token and user id.
func signupAndLogin(t *testing.T, handler http.Handler, email string) (string, int64) {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    email,
		"password": "hunter22",
		"name":     "Test User",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}

	var resp loginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("login returned empty access token")
	}
	return resp.AccessToken, resp.User.ID
}

func TestHealthEndpoint(t *testing.T) {
	_, handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSignup_DuplicateEmailConflicts(t *testing.T) {
	_, handler, _ := newTestServer(t)

	body := map[string]any{"email": "dup@example.com", "password": "pw123456", "name": "First"}
	if rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", body); rec.Code != http.StatusCreated {
		t.Fatalf("first signup status = %d, want %d", rec.Code, http.StatusCreated)
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSignup_MissingFieldsRejected(t *testing.T) {
	_, handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": "nopassword@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLogin_WrongPasswordUnauthorized(t *testing.T) {
	_, handler, _ := newTestServer(t)
	signupAndLogin(t, handler, "alice@example.com")

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_RejectsMissingAndBadTokens(t *testing.T) {
	_, handler, _ := newTestServer(t)

	if rec := doJSON(t, handler, http.MethodGet, "/api/users/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := doJSON(t, handler, http.MethodGet, "/api/users/me", "not-a-jwt", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetMe_ReturnsProfileWithoutPassword(t *testing.T) {
	_, handler, _ := newTestServer(t)
	token, _ := signupAndLogin(t, handler, "bob@example.com")

	rec := doJSON(t, handler, http.MethodGet, "/api/users/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got["email"] != "bob@example.com" {
		t.Errorf("email = %v, want bob@example.com", got["email"])
	}
	if _, leaked := got["password"]; leaked {
		t.Error("password present in profile response")
	}
}

func TestUpdateMe_PersistsProfileFields(t *testing.T) {
	_, handler, _ := newTestServer(t)
	token, _ := signupAndLogin(t, handler, "carol@example.com")

	rec := doJSON(t, handler, http.MethodPut, "/api/users/me", token, map[string]any{
		"name":   "Carol Updated",
		"gender": "female",
		"weight": 61.5,
		"height": 170.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/users/me", token, nil)
	var got user.User
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Name != "Carol Updated" || got.Weight != 61.5 {
		t.Errorf("profile = %+v, want updated name and weight", got)
	}
	if got.Email != "carol@example.com" {
		t.Errorf("email changed to %q on profile update", got.Email)
	}
}

func TestListReadings_FiltersByKindAndDevice(t *testing.T) {
	_, handler, registry := newTestServer(t)
	token, uid := signupAndLogin(t, handler, "dave@example.com")

	ctx := context.Background()
	for _, r := range []reading.TemperatureReading{
		{UserID: uid, DeviceAddress: "AA:BB", Temperature: 36.5, Unit: "C", Timestamp: 1000, Realtime: true},
		{UserID: uid, DeviceAddress: "AA:BB", Temperature: 37.1, Unit: "C", Timestamp: 2000, Realtime: false},
		{UserID: uid, DeviceAddress: "CC:DD", Temperature: 38.0, Unit: "C", Timestamp: 3000, Realtime: true},
	} {
		if err := registry.Insert(ctx, &r); err != nil {
			t.Fatalf("seeding reading: %v", err)
		}
	}

	cases := []struct {
		path string
		want int
	}{
		{"/api/readings", 3},
		{"/api/readings?kind=realtime", 2},
		{"/api/readings?kind=history", 1},
		{"/api/readings?device=AA:BB", 2},
		{"/api/readings?device=AA:BB&kind=history", 1},
	}
	for _, tc := range cases {
		rec := doJSON(t, handler, http.MethodGet, tc.path, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want %d", tc.path, rec.Code, http.StatusOK)
		}
		var rows []reading.TemperatureReading
		if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
			t.Fatalf("%s: decoding response: %v", tc.path, err)
		}
		if len(rows) != tc.want {
			t.Errorf("%s returned %d readings, want %d", tc.path, len(rows), tc.want)
		}
	}
}

func TestListReadings_ScopedToAuthenticatedUser(t *testing.T) {
	_, handler, registry := newTestServer(t)
	tokenA, uidA := signupAndLogin(t, handler, "one@example.com")
	_, uidB := signupAndLogin(t, handler, "two@example.com")

	ctx := context.Background()
	for _, r := range []reading.TemperatureReading{
		{UserID: uidA, DeviceAddress: "AA:BB", Temperature: 36.5, Unit: "C", Timestamp: 1000, Realtime: true},
		{UserID: uidB, DeviceAddress: "AA:BB", Temperature: 39.9, Unit: "C", Timestamp: 2000, Realtime: true},
	} {
		if err := registry.Insert(ctx, &r); err != nil {
			t.Fatalf("seeding reading: %v", err)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/readings", tokenA, nil)
	var rows []reading.TemperatureReading
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(rows) != 1 || rows[0].UserID != uidA {
		t.Errorf("got %d readings for user %d, want exactly their own", len(rows), uidA)
	}
}

func TestDeviceEndpoints_UnavailableWithoutSession(t *testing.T) {
	_, handler, _ := newTestServer(t)
	token, _ := signupAndLogin(t, handler, "nodev@example.com")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/scan/start"},
		{http.MethodPost, "/api/scan/stop"},
		{http.MethodGet, "/api/scan/devices"},
		{http.MethodPost, "/api/device/connect"},
		{http.MethodPost, "/api/device/disconnect"},
		{http.MethodGet, "/api/session/status"},
	}
	for _, tc := range paths {
		rec := doJSON(t, handler, tc.method, tc.path, token, map[string]any{"address": "AA:BB"})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, rec.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestToken_RoundTrip(t *testing.T) {
	signed, err := generateToken(42, "secret", 5)
	if err != nil {
		t.Fatalf("generateToken() error = %v", err)
	}

	claims, err := parseToken(signed, "secret")
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if claims.UserID() != 42 {
		t.Errorf("UserID() = %d, want 42", claims.UserID())
	}

	if _, err := parseToken(signed, "other-secret"); err == nil {
		t.Error("parseToken() with wrong secret succeeded")
	}
}
