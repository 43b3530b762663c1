package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClientFetchSendsQuery(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"national_code": q.Get("national_code"),
			"school_code":   q.Get("school_code"),
			"class_code":    q.Get("class_code"),
		}
		_, _ = w.Write([]byte("4|=|2024-03-01 10:00:00"))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL+"/status", Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	res, err := client.Fetch(context.Background(), "0012345678", "sch-7", "cls-3")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if res.Kind != KindEvent || res.Event.Code != CodeNotLooking {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotQuery["national_code"] != "0012345678" || gotQuery["school_code"] != "sch-7" || gotQuery["class_code"] != "cls-3" {
		t.Fatalf("unexpected query %v", gotQuery)
	}
}

func TestHTTPClientFetchNoMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("No messages yet\n"))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	res, err := client.Fetch(context.Background(), "1", "2", "3")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if res.Kind != KindNoMessages {
		t.Fatalf("expected KindNoMessages, got %v", res.Kind)
	}
}

func TestHTTPClientFetchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	_, err = client.Fetch(context.Background(), "1", "2", "3")
	if !errors.Is(err, ErrFeed) {
		t.Fatalf("expected ErrFeed, got %v", err)
	}
}

func TestHTTPClientFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	_, err = client.Fetch(context.Background(), "1", "2", "3")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestHTTPClientFetchOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("5|=|2024-03-01 10:00:00" + strings.Repeat(" ", maxPayloadBytes)))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	_, err = client.Fetch(context.Background(), "1", "2", "3")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for oversized body, got %v", err)
	}
}

func TestHTTPClientFetchBodyAtLimit(t *testing.T) {
	payload := "5|=|2024-03-01 10:00:00"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload + strings.Repeat(" ", maxPayloadBytes-len(payload))))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Auth{}, time.Second, time.UTC)
	if err != nil {
		t.Fatalf("NewHTTPClient error: %v", err)
	}
	res, err := client.Fetch(context.Background(), "1", "2", "3")
	if err != nil || res.Kind != KindEvent {
		t.Fatalf("expected event at exactly the limit, got %+v, %v", res, err)
	}
}

func TestHTTPClientAuthModes(t *testing.T) {
	t.Setenv("CLASSWATCH_TEST_KEY", "k-123")
	t.Setenv("CLASSWATCH_TEST_TOKEN", "t-456")
	t.Setenv("CLASSWATCH_TEST_PASSWORD", "p-789")

	tests := []struct {
		name  string
		auth  Auth
		check func(r *http.Request) bool
	}{
		{
			name: "apikey",
			auth: Auth{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "CLASSWATCH_TEST_KEY"},
			check: func(r *http.Request) bool {
				return r.Header.Get("X-Api-Key") == "k-123"
			},
		},
		{
			name: "bearer",
			auth: Auth{Mode: "bearer", TokenEnv: "CLASSWATCH_TEST_TOKEN"},
			check: func(r *http.Request) bool {
				return r.Header.Get("Authorization") == "Bearer t-456"
			},
		},
		{
			name: "basic",
			auth: Auth{Mode: "basic", Username: "teacher", PasswordEnv: "CLASSWATCH_TEST_PASSWORD"},
			check: func(r *http.Request) bool {
				user, pass, ok := r.BasicAuth()
				return ok && user == "teacher" && pass == "p-789"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authorized := false
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				authorized = tt.check(r)
				_, _ = w.Write([]byte(NoMessagesPayload))
			}))
			defer srv.Close()

			client, err := NewHTTPClient(srv.URL, tt.auth, time.Second, time.UTC)
			if err != nil {
				t.Fatalf("NewHTTPClient error: %v", err)
			}
			if _, err := client.Fetch(context.Background(), "1", "2", "3"); err != nil {
				t.Fatalf("Fetch error: %v", err)
			}
			if !authorized {
				t.Fatalf("expected %s credentials on request", tt.name)
			}
		})
	}
}

func TestNewHTTPClientRejectsBadInput(t *testing.T) {
	if _, err := NewHTTPClient("not a url", Auth{}, time.Second, nil); err == nil {
		t.Fatalf("expected error for invalid endpoint")
	}
	if _, err := NewHTTPClient("http://127.0.0.1/status", Auth{Mode: "kerberos"}, time.Second, nil); err == nil {
		t.Fatalf("expected error for unknown auth mode")
	}
}
