package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	out := &bytes.Buffer{}
	c := NewClient(srv.URL+"/", out)
	c.NoColor = true
	return c, out
}

func TestRegister_Created(t *testing.T) {
	var got map[string]string
	c, out := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"User created","user":{"id":"u1"}}`))
	})

	if err := c.Register(context.Background(), "Ann", "ann@x.com", "s3cret!"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got["email"] != "ann@x.com" || got["password"] != "s3cret!" {
		t.Errorf("unexpected request body: %v", got)
	}
	if !strings.Contains(out.String(), "[ok] created") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRegister_Warning(t *testing.T) {
	c, out := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"User created","user":{"id":"u1"},"warning":"not published"}`))
	})

	if err := c.Register(context.Background(), "Ann", "ann@x.com", "s3cret!"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "[!] created with warning: not published") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRegister_Conflict(t *testing.T) {
	c, out := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"User already exists"}`))
	})

	if err := c.Register(context.Background(), "Ann", "ann@x.com", "s3cret!"); err == nil {
		t.Fatal("expected error on 409")
	}
	if !strings.Contains(out.String(), "[x] 409") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestLoginAndProfile(t *testing.T) {
	c, out := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			w.Write([]byte(`{"token":"tok-1","user":{"id":"u1"}}`))
		case "/api/protected/profile":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"message":"Welcome to your profile"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	token, err := c.Login(context.Background(), "ann@x.com", "s3cret!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("expected tok-1, got %q", token)
	}
	if err := c.Profile(context.Background(), token); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !strings.Contains(out.String(), "Welcome to your profile") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if err := c.Profile(context.Background(), "wrong"); err == nil {
		t.Error("expected error with a wrong token")
	}
}

func TestHealth(t *testing.T) {
	c, out := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if !strings.Contains(out.String(), "[+]") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestHealth_Offline(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewClient("http://127.0.0.1:1", out)
	c.NoColor = true

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error for offline service")
	}
	if !strings.Contains(out.String(), "offline") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestShowNotifications(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT dedup_key, created_at FROM welcome_notifications").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"dedup_key", "created_at"}).
			AddRow("welcome:u1", now).
			AddRow("welcome:u2", now))

	out := &bytes.Buffer{}
	if err := ShowNotifications(context.Background(), db, out, 20); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "welcome:u1") || !strings.Contains(out.String(), "2 notification(s)") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
